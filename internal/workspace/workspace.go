// Package workspace owns the transient directory holding one job's inputs
// and output.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Fixed names inside the root. Imported inputs never take one of them.
const (
	// OutputFileName is the produced video.
	OutputFileName = "output.mp4"
	// SpeechFileName holds synthesized audio.
	SpeechFileName = "tts_output.mp3"
	// PreviewFileName holds the face preview shown by the form.
	PreviewFileName = "preview.jpg"
	// ScratchDirName is where the inference program writes intermediates.
	ScratchDirName = "temp"

	inputPrefix = "input-"
)

// ErrOutsideWorkspace is returned for names that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path escapes workspace")

// Manager owns a root directory for transient per-job files.
type Manager struct {
	root string
}

// New creates a manager for root. Nothing is created until Ensure.
func New(root string) *Manager {
	return &Manager{root: filepath.Clean(root)}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Ensure creates the root directory if absent.
func (m *Manager) Ensure() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("create workspace %s: %w", m.root, err)
	}
	return nil
}

// Reset deletes the root recursively and recreates it empty. Files referenced
// by any earlier job are gone afterwards.
func (m *Manager) Reset() error {
	if err := os.RemoveAll(m.root); err != nil {
		return fmt.Errorf("remove workspace %s: %w", m.root, err)
	}
	return m.Ensure()
}

// Entries lists the names directly under the root.
func (m *Manager) Entries() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Path resolves name under the root and rejects traversal outside it.
func (m *Manager) Path(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("workspace file name is required")
	}

	path := filepath.Join(m.root, trimmed)
	if !m.Contains(path) || path == m.root {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, name)
	}
	return path, nil
}

// Contains reports whether path lies within the root.
func (m *Manager) Contains(path string) bool {
	relative, err := filepath.Rel(m.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return relative == "." || (relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator)))
}

// OutputPath returns the fixed location of the produced video.
func (m *Manager) OutputPath() string {
	return filepath.Join(m.root, OutputFileName)
}

// Write stores data under name and returns its path.
func (m *Manager) Write(name string, data []byte) (string, error) {
	path, err := m.Path(name)
	if err != nil {
		return "", err
	}
	if err := m.Ensure(); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Reserved reports whether path is one of the names the pipeline writes to,
// or lies in the scratch directory.
func (m *Manager) Reserved(path string) bool {
	relative, err := filepath.Rel(m.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	switch relative {
	case OutputFileName, SpeechFileName, PreviewFileName, ScratchDirName:
		return true
	}
	return strings.HasPrefix(relative, ScratchDirName+string(filepath.Separator))
}

// InputName is the workspace name an import of src takes for jobID.
func InputName(jobID, src string) string {
	base := filepath.Base(strings.TrimSpace(src))
	if jobID = strings.TrimSpace(jobID); jobID == "" {
		return inputPrefix + base
	}
	return inputPrefix + jobID + "-" + base
}

// Import copies src into the root as InputName(jobID, src). A file already
// inside the workspace is returned unchanged unless it sits on a reserved
// name, which the job would overwrite or delete.
func (m *Manager) Import(jobID, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", fmt.Errorf("source path is required")
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		abs = src
	}
	if m.Contains(abs) && !m.Reserved(abs) {
		return src, nil
	}

	dst, err := m.Path(InputName(jobID, src))
	if err != nil {
		return "", err
	}
	if err := m.Ensure(); err != nil {
		return "", err
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open input %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return "", fmt.Errorf("copy input into workspace: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close %s: %w", dst, closeErr)
	}
	return dst, nil
}
