// Package inference runs the external lip-sync program for one job and
// decides the outcome from the file it leaves behind.
package inference

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
	"lipsync-studio/internal/workspace"
)

const (
	stderrTailLimit = 4000
)

// ErrInferenceFailure means the program finished without a usable output.
var ErrInferenceFailure = errors.New("inference produced no output")

// Failure carries the captured process output of an unsuccessful run.
type Failure struct {
	CommandLog command.Log
	Detail     string
	Err        error
}

// Error formats inference failures for logs and UI.
func (f *Failure) Error() string {
	return fmt.Sprintf("%v: %s", ErrInferenceFailure, f.Detail)
}

// Unwrap exposes ErrInferenceFailure and the process error, if any.
func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{ErrInferenceFailure}
	}
	return []error{ErrInferenceFailure, f.Err}
}

// Outcome is what one invocation produced.
type Outcome struct {
	CommandLog  command.Log
	OutputBytes int64
	Elapsed     time.Duration
}

// Config names the interpreter, entry point and checkpoint to run.
type Config struct {
	PythonBinary   string
	EntryPath      string
	CheckpointPath string
	ForceCPU       bool
	// Dir is the working directory. The program writes intermediates to
	// Dir/temp, which Run creates.
	Dir string
}

// Invoker runs the inference program synchronously.
type Invoker struct {
	cfg    Config
	runner command.Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewInvoker builds an invoker backed by os/exec.
func NewInvoker(cfg Config, logger *slog.Logger) *Invoker {
	return NewInvokerWith(cfg, &command.ExecRunner{}, logger)
}

// NewInvokerWith allows injecting the process runner.
func NewInvokerWith(cfg Config, runner command.Runner, logger *slog.Logger) *Invoker {
	if strings.TrimSpace(cfg.PythonBinary) == "" {
		cfg.PythonBinary = "python"
	}
	return &Invoker{
		cfg:    cfg,
		runner: runner,
		logger: logging.Component(logger, "inference"),
		now:    time.Now,
	}
}

// BuildArgs returns the interpreter arguments for job, entry point first.
// The program parses --static with bool(), so any non-empty value reads as
// true; the flag is left out for a moving face.
func (i *Invoker) BuildArgs(job domain.Job) []string {
	args := []string{
		i.cfg.EntryPath,
		"--checkpoint_path", i.cfg.CheckpointPath,
		"--face", job.ImagePath,
		"--audio", job.AudioPath,
		"--outfile", job.OutputPath,
	}
	if job.StaticImage {
		args = append(args, "--static", "True")
	}
	args = append(args, "--pads")
	return append(args, job.Pads.Tokens()...)
}

// Run removes any stale output, runs the program and inspects OutputPath.
// The exit code is recorded but success depends only on a non-empty output.
func (i *Invoker) Run(ctx context.Context, job domain.Job) (Outcome, error) {
	if strings.TrimSpace(job.OutputPath) == "" {
		return Outcome{}, errors.New("job output path is empty")
	}
	if err := os.Remove(job.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Outcome{}, fmt.Errorf("remove stale output: %w", err)
	}

	if i.cfg.Dir != "" {
		if err := os.MkdirAll(filepath.Join(i.cfg.Dir, workspace.ScratchDirName), 0o755); err != nil {
			return Outcome{}, fmt.Errorf("prepare scratch directory: %w", err)
		}
	}

	spec := command.Spec{
		Name: i.cfg.PythonBinary,
		Args: i.BuildArgs(job),
		Dir:  i.cfg.Dir,
	}
	if i.cfg.ForceCPU {
		spec.Env = []string{"CUDA_VISIBLE_DEVICES="}
	}

	i.logger.Info("running inference", slog.String("job_id", job.ID), slog.String("command", command.Format(spec.Name, spec.Args)))
	started := i.now()
	log, runErr := command.Run(ctx, i.runner, spec)
	outcome := Outcome{CommandLog: log, Elapsed: i.now().Sub(started)}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return outcome, ctxErr
	}

	if info, err := os.Stat(job.OutputPath); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		outcome.OutputBytes = info.Size()
		if runErr != nil {
			i.logger.Warn("inference exited with error but produced output",
				slog.String("job_id", job.ID),
				slog.Int("exit_code", log.ExitCode),
			)
		}
		i.logger.Info("inference produced output",
			slog.String("job_id", job.ID),
			slog.String("path", job.OutputPath),
			slog.Int64("bytes", info.Size()),
		)
		return outcome, nil
	}

	detail := command.Tail(log.Stderr, stderrTailLimit)
	if detail == "" && runErr != nil {
		detail = runErr.Error()
	}
	if detail == "" {
		detail = command.Tail(log.Stdout, stderrTailLimit)
	}
	if detail == "" {
		detail = fmt.Sprintf("exit code %d and no output file at %s", log.ExitCode, job.OutputPath)
	}

	i.logger.Error("inference failed",
		slog.String("job_id", job.ID),
		slog.Int("exit_code", log.ExitCode),
		slog.String("stderr", detail),
	)
	return outcome, &Failure{CommandLog: log, Detail: detail, Err: runErr}
}
