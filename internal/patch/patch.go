// Package patch rewrites the inference entry point so it never selects a GPU.
package patch

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// Marker is the CUDA availability probe in the entry point.
	Marker = "torch.cuda.is_available()"
	// Replacement makes the probe always report no GPU.
	Replacement = "False"
)

// ErrPatch means the entry point could not be read or rewritten.
var ErrPatch = errors.New("runtime patch failed")

// Patch replaces every CUDA probe in text and reports whether anything changed.
func Patch(text string) (string, bool) {
	if !strings.Contains(text, Marker) {
		return text, false
	}
	return strings.ReplaceAll(text, Marker, Replacement), true
}

// EnsureCPUOnly patches the file at path in place. The file is rewritten
// only when its content changes, keeping its mode.
func EnsureCPUOnly(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %v", ErrPatch, path, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", ErrPatch, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %v", ErrPatch, path, err)
	}

	patched, changed := Patch(string(data))
	if !changed {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("%w: write %s: %v", ErrPatch, path, err)
	}
	return true, nil
}
