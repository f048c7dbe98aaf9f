// Package provision fetches the inference program's code tree and weight
// assets, once, and verifies what it fetched.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/logging"
	"lipsync-studio/internal/metrics"
)

const cloneTimeout = 30 * time.Minute

// ErrAcquisition means a code tree or asset could not be fetched or the
// fetched file is unusable.
var ErrAcquisition = errors.New("asset acquisition failed")

// AcquisitionError carries the failing command, if any, next to the cause.
type AcquisitionError struct {
	Asset      string
	CommandLog command.Log
	Err        error
}

// Error formats acquisition failures for logs and UI.
func (e *AcquisitionError) Error() string {
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("acquire %s: %v", e.Asset, e.Err)
	}
	return fmt.Sprintf("acquire %s: %v (cmd=%s exit=%d)", e.Asset, e.Err, e.CommandLog, e.CommandLog.ExitCode)
}

// Unwrap exposes ErrAcquisition and the underlying cause.
func (e *AcquisitionError) Unwrap() []error {
	return []error{ErrAcquisition, e.Err}
}

// Config locates the code tree and where to fetch it from.
type Config struct {
	CodeDir       string
	RepositoryURL string
	GitBinary     string
}

// Provisioner ensures the code tree and weight assets exist locally.
type Provisioner struct {
	cfg        Config
	runner     command.Runner
	downloader Downloader
	metrics    *metrics.Metrics
	logger     *slog.Logger
	stat       func(string) (os.FileInfo, error)
	mkdirTemp  func(dir, pattern string) (string, error)
}

// New builds a provisioner with real git and HTTP dependencies.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Provisioner {
	return NewWith(cfg, &command.ExecRunner{}, NewHTTPDownloader(), m, logger)
}

// NewWith allows injecting the command runner and downloader.
func NewWith(cfg Config, runner command.Runner, downloader Downloader, m *metrics.Metrics, logger *slog.Logger) *Provisioner {
	if strings.TrimSpace(cfg.GitBinary) == "" {
		cfg.GitBinary = "git"
	}
	return &Provisioner{
		cfg:        cfg,
		runner:     runner,
		downloader: downloader,
		metrics:    m,
		logger:     logging.Component(logger, "provision"),
		stat:       os.Stat,
		mkdirTemp:  os.MkdirTemp,
	}
}

// Assets returns the weight catalog for the configured code tree.
func (p *Provisioner) Assets() []domain.ModelAsset {
	return Catalog(p.cfg.CodeDir)
}

// Status returns the catalog with Present filled in.
func (p *Provisioner) Status() []domain.ModelAsset {
	assets := p.Assets()
	for i := range assets {
		assets[i].Present = p.present(assets[i].LocalPath, assets[i].MinSize)
	}
	return assets
}

// CodeTreePresent reports whether the entry file exists.
func (p *Provisioner) CodeTreePresent() bool {
	return p.present(EntryPath(p.cfg.CodeDir), 0)
}

// EnsureAll ensures the code tree, then every weight asset in catalog order.
func (p *Provisioner) EnsureAll(ctx context.Context) ([]domain.AcquisitionResult, error) {
	results := make([]domain.AcquisitionResult, 0, len(weightCatalog)+1)

	tree, err := p.EnsureCodeTree(ctx)
	results = append(results, tree)
	if err != nil {
		return results, err
	}

	if err := os.MkdirAll(CheckpointDir(p.cfg.CodeDir), 0o755); err != nil {
		return results, &AcquisitionError{Asset: CheckpointDirName, Err: err}
	}

	for _, asset := range p.Assets() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := p.EnsureAsset(ctx, asset)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// EnsureCodeTree clones the repository when the entry file is missing.
func (p *Provisioner) EnsureCodeTree(ctx context.Context) (domain.AcquisitionResult, error) {
	codeDir := p.cfg.CodeDir
	result := domain.AcquisitionResult{
		Asset: domain.ModelAsset{
			Name:      filepath.Base(codeDir),
			SourceURL: p.cfg.RepositoryURL,
			LocalPath: codeDir,
		},
	}

	if p.CodeTreePresent() {
		result.Asset.Present = true
		p.metrics.AssetFetch(result.Asset.Name, "cached", 0)
		return result, nil
	}
	if strings.TrimSpace(p.cfg.RepositoryURL) == "" {
		return result, &AcquisitionError{Asset: result.Asset.Name, Err: errors.New("repository URL is not configured")}
	}

	p.logger.Info("cloning code tree", slog.String("url", p.cfg.RepositoryURL), slog.String("dir", codeDir))
	log, err := p.clone(ctx, codeDir)
	result.Fetched = true
	result.ExitCode = log.ExitCode
	if err != nil {
		p.metrics.AssetFetch(result.Asset.Name, "failed", 0)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, &AcquisitionError{Asset: result.Asset.Name, CommandLog: log, Err: err}
	}

	// A zero exit is not proof of a usable tree.
	if !p.CodeTreePresent() {
		p.metrics.AssetFetch(result.Asset.Name, "failed", 0)
		return result, &AcquisitionError{
			Asset:      result.Asset.Name,
			CommandLog: log,
			Err:        fmt.Errorf("clone finished but %s is missing", CodeEntryFile),
		}
	}

	result.Asset.Present = true
	p.metrics.AssetFetch(result.Asset.Name, "fetched", 0)
	p.logger.Info("code tree ready", slog.String("dir", codeDir))
	return result, nil
}

// clone runs git clone into codeDir, going through a sibling temp directory
// when codeDir already exists without a code tree.
func (p *Provisioner) clone(ctx context.Context, codeDir string) (command.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	if _, err := p.stat(codeDir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(codeDir), 0o755); err != nil {
			return command.Log{}, err
		}
		return p.runClone(ctx, codeDir)
	}

	tmpDir, err := p.mkdirTemp(filepath.Dir(codeDir), ".clone-*")
	if err != nil {
		return command.Log{}, fmt.Errorf("create clone staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	staged := filepath.Join(tmpDir, "src")
	log, err := p.runClone(ctx, staged)
	if err != nil {
		return log, err
	}
	if err := mergeInto(staged, codeDir); err != nil {
		return log, fmt.Errorf("move cloned tree into place: %w", err)
	}
	return log, nil
}

func (p *Provisioner) runClone(ctx context.Context, dir string) (command.Log, error) {
	return command.Run(ctx, p.runner, command.Spec{
		Name: p.cfg.GitBinary,
		Args: []string{"clone", "--depth", "1", p.cfg.RepositoryURL, dir},
	})
}

// mergeInto moves every top-level entry of src into dst, keeping entries
// dst already has.
func mergeInto(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		target := filepath.Join(dst, entry.Name())
		if _, err := os.Lstat(target); err == nil {
			continue
		}
		if err := os.Rename(filepath.Join(src, entry.Name()), target); err != nil {
			return err
		}
	}
	return nil
}

// EnsureAsset downloads asset when its local file is absent or empty and
// verifies size and checksum of what was written. A present asset costs one
// stat and no network traffic.
func (p *Provisioner) EnsureAsset(ctx context.Context, asset domain.ModelAsset) (domain.AcquisitionResult, error) {
	result := domain.AcquisitionResult{Asset: asset}

	if info, err := p.stat(asset.LocalPath); err == nil && Complete(info, asset.MinSize) {
		result.Asset.Present = true
		result.Bytes = info.Size()
		p.metrics.AssetFetch(asset.Name, "cached", 0)
		return result, nil
	}

	p.logger.Info("downloading asset", slog.String("asset", asset.Name), slog.String("url", asset.SourceURL))
	result.Fetched = true
	download, err := p.downloader.Download(ctx, asset.SourceURL, asset.LocalPath)
	if err != nil {
		p.metrics.AssetFetch(asset.Name, "failed", 0)
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, &AcquisitionError{Asset: asset.Name, Err: err}
	}
	result.Bytes = download.Bytes
	result.SHA256 = download.SHA256

	if err := verify(asset, download); err != nil {
		_ = os.Remove(asset.LocalPath)
		p.metrics.AssetFetch(asset.Name, "failed", download.Bytes)
		return result, &AcquisitionError{Asset: asset.Name, Err: err}
	}

	result.Asset.Present = true
	p.metrics.AssetFetch(asset.Name, "fetched", download.Bytes)
	p.logger.Info("asset ready",
		slog.String("asset", asset.Name),
		slog.Int64("bytes", download.Bytes),
		slog.String("sha256", download.SHA256),
	)
	return result, nil
}

// verify rejects empty, undersized, or checksum-mismatched downloads.
func verify(asset domain.ModelAsset, download Download) error {
	if download.Bytes <= 0 {
		return errors.New("downloaded file is empty")
	}
	if asset.MinSize > 0 && download.Bytes < asset.MinSize {
		return fmt.Errorf("downloaded %d bytes, expected at least %d", download.Bytes, asset.MinSize)
	}
	if want := strings.TrimSpace(asset.SHA256); want != "" && !strings.EqualFold(want, download.SHA256) {
		return fmt.Errorf("checksum mismatch: got %s, want %s", download.SHA256, want)
	}
	return nil
}

func (p *Provisioner) present(path string, minSize int64) bool {
	info, err := p.stat(path)
	return err == nil && Complete(info, minSize)
}
