// Package command runs external programs and records what they did.
package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Log captures one external command invocation result.
type Log struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// String formats the command line for logs and error messages.
func (l Log) String() string {
	return Format(l.Command, l.Args)
}

// Result is a process execution response.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Spec describes one command to run.
type Spec struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the parent environment.
	Env []string
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
// ExitCode is -1 when the process could not be started or was killed.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Run executes spec with runner and returns the combined Log.
func Run(ctx context.Context, runner Runner, spec Spec) (Log, error) {
	res, err := runner.Run(ctx, spec)
	return Log{
		Command:  spec.Name,
		Args:     append([]string(nil), spec.Args...),
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, err
}

// Format joins a command and its arguments into one line.
func Format(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

// Tail trims captured output to at most its last limit bytes for error
// messages. The cut never splits a UTF-8 sequence.
func Tail(output string, limit int) string {
	trimmed := strings.TrimSpace(output)
	if limit <= 0 || len(trimmed) <= limit {
		return trimmed
	}
	start := len(trimmed) - limit
	for start < len(trimmed) && !utf8.RuneStart(trimmed[start]) {
		start++
	}
	return "..." + trimmed[start:]
}
