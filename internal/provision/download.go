package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const modelDownloadTimeout = 45 * time.Minute

// Download is what one transfer wrote to disk.
type Download struct {
	Bytes  int64
	SHA256 string
}

// Downloader fetches sourceURL into destinationPath.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destinationPath string) (Download, error)
}

// HTTPDownloader streams files over HTTP into a temp file and renames them
// into place once complete.
type HTTPDownloader struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
}

// NewHTTPDownloader returns a downloader using http.DefaultClient.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		Client:    http.DefaultClient,
		UserAgent: "lipsync-studio",
		Timeout:   modelDownloadTimeout,
	}
}

// Download writes the body to destinationPath, hashing it on the way.
func (d *HTTPDownloader) Download(ctx context.Context, sourceURL, destinationPath string) (Download, error) {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return Download{}, fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Download{}, fmt.Errorf("remove stale temp file: %w", err)
	}

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return Download{}, fmt.Errorf("build request: %w", err)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Download{}, fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Download{}, fmt.Errorf("create temporary file: %w", err)
	}

	hash := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(file, hash), resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return Download{}, fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return Download{}, fmt.Errorf("close destination file: %w", closeErr)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		_ = os.Remove(tmpPath)
		return Download{}, fmt.Errorf("truncated download: got %d of %d bytes", written, resp.ContentLength)
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return Download{}, fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return Download{}, fmt.Errorf("move downloaded file into place: %w", err)
	}

	return Download{Bytes: written, SHA256: hex.EncodeToString(hash.Sum(nil))}, nil
}
