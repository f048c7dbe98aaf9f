// Package environment makes sure the media codec the inference program
// shells out to is callable, installing it through the host package manager
// when it is not.
package environment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	goruntime "runtime"
	"strings"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/logging"
)

// ErrEnvironmentSetup means the codec is unavailable and could not be installed.
var ErrEnvironmentSetup = errors.New("environment setup failed")

// Provider probes for and installs the codec binary.
type Provider interface {
	Probe(ctx context.Context) error
	Install(ctx context.Context) error
}

// SystemProvider probes by running "<codec> -version" and installs with the
// package manager of the running OS.
type SystemProvider struct {
	codec     string
	installer *installer
}

// NewSystemProvider builds a provider for codec using real OS commands.
func NewSystemProvider(codec string) *SystemProvider {
	return NewSystemProviderWith(codec, goruntime.GOOS, &command.ExecRunner{}, exec.LookPath)
}

// NewSystemProviderWith allows injecting the OS name, runner, and PATH lookup.
func NewSystemProviderWith(codec, goos string, runner command.Runner, lookPath func(string) (string, error)) *SystemProvider {
	if strings.TrimSpace(codec) == "" {
		codec = "ffmpeg"
	}
	return &SystemProvider{
		codec: codec,
		installer: &installer{
			goos:     goos,
			runner:   runner,
			lookPath: lookPath,
		},
	}
}

// Probe runs the codec's version query.
func (p *SystemProvider) Probe(ctx context.Context) error {
	log, err := command.Run(ctx, p.installer.runner, command.Spec{Name: p.codec, Args: []string{"-version"}})
	if err != nil {
		return fmt.Errorf("%s: %w", log, err)
	}
	return nil
}

// Install installs the codec package. The package is named after the binary.
func (p *SystemProvider) Install(ctx context.Context) error {
	pkg := packageName(p.codec)
	if err := p.installer.install(ctx, pkg); err != nil {
		return fmt.Errorf("install %s: %w", pkg, err)
	}
	return nil
}

// InstallPackage installs any named package with the same manager list.
func (p *SystemProvider) InstallPackage(ctx context.Context, pkg string) error {
	if err := p.installer.install(ctx, pkg); err != nil {
		return fmt.Errorf("install %s: %w", pkg, err)
	}
	return nil
}

// packageName maps a configured binary path to its package name.
func packageName(binary string) string {
	base := strings.TrimSpace(binary)
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	base = strings.TrimSuffix(base, ".exe")
	if base == "" {
		return "ffmpeg"
	}
	return base
}

// Bootstrapper ensures the codec is callable before any job work starts.
type Bootstrapper struct {
	provider Provider
	logger   *slog.Logger
}

// NewBootstrapper wraps provider. A nil logger discards output.
func NewBootstrapper(provider Provider, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{
		provider: provider,
		logger:   logging.Component(logger, "environment"),
	}
}

// EnsureCodec returns immediately when the probe succeeds, otherwise installs
// and re-probes. Any failure wraps ErrEnvironmentSetup.
func (b *Bootstrapper) EnsureCodec(ctx context.Context) error {
	probeErr := b.provider.Probe(ctx)
	if probeErr == nil {
		b.logger.Debug("codec available")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.logger.Warn("codec probe failed, installing", slog.String("error", probeErr.Error()))
	if err := b.provider.Install(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Error("codec install failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrEnvironmentSetup, err)
	}

	if err := b.provider.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: codec still unavailable after install: %v", ErrEnvironmentSetup, err)
	}

	b.logger.Info("codec installed")
	return nil
}
