package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/provision"
)

// Diagnostic item ids shared with the remediation actions.
const (
	ItemCodec      = "tool_ffmpeg"
	ItemPython     = "tool_python"
	ItemGit        = "tool_git"
	ItemCodeTree   = "code_tree"
	ItemCheckpoint = "checkpoints"
	ItemWorkspace  = "workspace_dir"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool(ItemCodec, settings.CodecBinary, "Use Install / Fix to install it through the system package manager."),
		c.checkTool(ItemPython, settings.PythonBinary, "Install Python 3 with torch, opencv-python and librosa, or set the interpreter path in settings."),
		c.checkTool(ItemGit, "git", "Use Install / Fix to install git; it is needed to fetch the Wav2Lip code."),
		c.checkCodeTree(settings.CodeDir),
		c.checkCheckpoints(settings.CodeDir, settings.Checkpoint),
		c.checkWorkspaceDir(settings.WorkspaceDir),
	}

	return domain.NewDiagnosticReport(time.Now().UTC(), items)
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(id, name, hint string) domain.DiagnosticItem {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    id,
			Status:  domain.DiagnosticStatusFail,
			Message: "No executable configured.",
			Hint:    hint,
		}
	}

	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      id,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    hint,
		}
	}

	return domain.DiagnosticItem{
		ID:      id,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkCodeTree validates that the inference entry point is present.
func (c *Checker) checkCodeTree(codeDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   ItemCodeTree,
		Name: "Wav2Lip code",
	}

	if strings.TrimSpace(codeDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Code directory is empty."
		item.Hint = "Set the directory where the Wav2Lip code should live."
		return item
	}

	entry := provision.EntryPath(codeDir)
	info, err := c.stat(entry)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Entry point not found: %s", entry)
		item.Hint = "Use Install / Fix to clone the repository."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Code tree found: %s", codeDir)
	return item
}

// checkCheckpoints validates every catalog weight and the selected checkpoint.
func (c *Checker) checkCheckpoints(codeDir, checkpoint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   ItemCheckpoint,
		Name: "Model weights",
	}

	var missing []string
	for _, asset := range provision.Catalog(codeDir) {
		if !c.present(asset.LocalPath, asset.MinSize) {
			missing = append(missing, asset.Name)
		}
	}
	if checkpoint = strings.TrimSpace(checkpoint); checkpoint != "" && !c.present(provision.CheckpointPath(codeDir, checkpoint), 0) && !contains(missing, checkpoint) {
		missing = append(missing, checkpoint)
	}

	if len(missing) > 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Missing weights: %s", strings.Join(missing, ", "))
		item.Hint = "Use Install / Fix to download them (several hundred MB)."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("All weights present in %s", provision.CheckpointDir(codeDir))
	return item
}

// checkWorkspaceDir validates workspace existence and write access.
func (c *Checker) checkWorkspaceDir(workspaceDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   ItemWorkspace,
		Name: "Workspace directory",
	}

	if strings.TrimSpace(workspaceDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Workspace directory is empty."
		item.Hint = "Set a workspace directory where job inputs and output can be written."
		return item
	}

	if err := c.mkdirAll(workspaceDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create workspace directory: %s", workspaceDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(workspaceDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Workspace directory is not writable: %s", workspaceDir)
		item.Hint = "Choose a writable directory for job files."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", workspaceDir)
	return item
}

func (c *Checker) present(path string, minSize int64) bool {
	info, err := c.stat(path)
	return err == nil && provision.Complete(info, minSize)
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
