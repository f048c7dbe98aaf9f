package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"lipsync-studio/internal/diagnostics"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/environment"
	"lipsync-studio/internal/provision"
	"lipsync-studio/internal/workspace"
)

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}
	if !fixable(id) {
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}
	release, err := a.acquire(opFix)
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("cannot fix %s: %w", id, err)
	}
	defer release()

	settings, err := a.loadSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}

	fix := a.fix
	if fix == nil {
		fix = a.applyFix
	}
	fixErr := fix(context.Background(), id, settings)

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func fixable(id string) bool {
	switch id {
	case diagnostics.ItemCodec, diagnostics.ItemPython, diagnostics.ItemGit,
		diagnostics.ItemCodeTree, diagnostics.ItemCheckpoint, diagnostics.ItemWorkspace:
		return true
	default:
		return false
	}
}

// applyFix runs the remediation for one diagnostic item.
func (a *App) applyFix(ctx context.Context, id string, settings domain.Settings) error {
	logger := a.logger()

	switch id {
	case diagnostics.ItemCodec:
		bootstrapper := environment.NewBootstrapper(environment.NewSystemProvider(settings.CodecBinary), logger)
		return bootstrapper.EnsureCodec(ctx)
	case diagnostics.ItemGit:
		if err := environment.NewSystemProvider("git").InstallPackage(ctx, "git"); err != nil {
			return fmt.Errorf("%w: %v", environment.ErrEnvironmentSetup, err)
		}
		return nil
	case diagnostics.ItemPython:
		return fmt.Errorf("install Python 3 with torch, opencv-python and librosa, then set the interpreter in settings (current: %s)", settings.PythonBinary)
	case diagnostics.ItemCodeTree, diagnostics.ItemCheckpoint:
		p := provision.New(provision.Config{
			CodeDir:       settings.CodeDir,
			RepositoryURL: settings.RepositoryURL,
		}, a.Metrics, logger)
		_, err := p.EnsureAll(ctx)
		return err
	case diagnostics.ItemWorkspace:
		return workspace.New(settings.WorkspaceDir).Ensure()
	default:
		return fmt.Errorf("unsupported diagnostic item id: %s", id)
	}
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}
