package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
)

// fakeRunner records the spec and optionally writes the output file.
type fakeRunner struct {
	output   []byte
	result   command.Result
	err      error
	spec     command.Spec
	existing bool
}

// Run records the call and simulates the program.
func (f *fakeRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	f.spec = spec
	outfile := argAfter(spec.Args, "--outfile")
	if _, err := os.Stat(outfile); err == nil {
		f.existing = true
	}
	if f.output != nil {
		if err := os.WriteFile(outfile, f.output, 0o644); err != nil {
			return command.Result{ExitCode: 1}, err
		}
	}
	return f.result, f.err
}

func argAfter(args []string, flag string) string {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func testJob(t *testing.T) domain.Job {
	t.Helper()
	root := t.TempDir()
	return domain.Job{
		ID:          "job-1",
		ImagePath:   filepath.Join(root, "face.jpg"),
		AudioPath:   filepath.Join(root, "voice.wav"),
		StaticImage: true,
		Pads:        domain.Pads{0, 10, 0, 0},
		OutputPath:  filepath.Join(root, "output.mp4"),
	}
}

func testConfig() Config {
	return Config{
		PythonBinary:   "python3",
		EntryPath:      "/opt/Wav2Lip/inference.py",
		CheckpointPath: "/opt/Wav2Lip/checkpoint/wav2lip_gan.pth",
		ForceCPU:       true,
	}
}

// TestBuildArgsOrder keeps the program's CLI contract.
func TestBuildArgsOrder(t *testing.T) {
	job := testJob(t)
	got := NewInvokerWith(testConfig(), &fakeRunner{}, nil).BuildArgs(job)
	want := []string{
		"/opt/Wav2Lip/inference.py",
		"--checkpoint_path", "/opt/Wav2Lip/checkpoint/wav2lip_gan.pth",
		"--face", job.ImagePath,
		"--audio", job.AudioPath,
		"--outfile", job.OutputPath,
		"--static", "True",
		"--pads", "0", "10", "0", "0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v\nwant %v", got, want)
	}
}

// TestBuildArgsPadsAreFourTokens never joins margins into one argument.
func TestBuildArgsPadsAreFourTokens(t *testing.T) {
	job := testJob(t)
	job.StaticImage = false
	job.Pads = domain.Pads{1, 2, 3, 4}
	args := NewInvokerWith(testConfig(), &fakeRunner{}, nil).BuildArgs(job)

	for _, arg := range args {
		if arg == "--static" {
			t.Fatalf("--static passed for a moving face: %v", args)
		}
	}
	tail := args[len(args)-5:]
	if !reflect.DeepEqual(tail, []string{"--pads", "1", "2", "3", "4"}) {
		t.Fatalf("pads tail = %v", tail)
	}
}

// TestRunSucceedsOnNonEmptyOutput ignores the exit code.
func TestRunSucceedsOnNonEmptyOutput(t *testing.T) {
	job := testJob(t)
	runner := &fakeRunner{
		output: []byte("mp4 bytes"),
		result: command.Result{ExitCode: 1, Stderr: "warning: deprecated"},
		err:    errors.New("exit status 1"),
	}

	outcome, err := NewInvokerWith(testConfig(), runner, nil).Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.OutputBytes != int64(len("mp4 bytes")) {
		t.Fatalf("output bytes = %d", outcome.OutputBytes)
	}
	if outcome.CommandLog.ExitCode != 1 {
		t.Fatalf("exit code = %d, want recorded 1", outcome.CommandLog.ExitCode)
	}
}

// TestRunRemovesStaleOutput starts every invocation without an old result.
func TestRunRemovesStaleOutput(t *testing.T) {
	job := testJob(t)
	if err := os.WriteFile(job.OutputPath, []byte("old video"), 0o644); err != nil {
		t.Fatalf("write stale output: %v", err)
	}
	runner := &fakeRunner{}

	_, err := NewInvokerWith(testConfig(), runner, nil).Run(context.Background(), job)
	if runner.existing {
		t.Fatal("stale output visible to the program")
	}
	if !errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("error = %v, want ErrInferenceFailure", err)
	}
}

// TestRunWithoutOutputCarriesStderr fails even when the exit code is zero.
func TestRunWithoutOutputCarriesStderr(t *testing.T) {
	job := testJob(t)
	runner := &fakeRunner{result: command.Result{Stderr: "Face not detected! Ensure the video contains a face in all the frames."}}

	_, err := NewInvokerWith(testConfig(), runner, nil).Run(context.Background(), job)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *Failure", err)
	}
	if !strings.Contains(failure.Detail, "Face not detected") {
		t.Fatalf("detail = %q", failure.Detail)
	}
}

// TestRunWithoutOutputOrStderrHasDiagnostic never leaves the detail empty.
func TestRunWithoutOutputOrStderrHasDiagnostic(t *testing.T) {
	job := testJob(t)
	runner := &fakeRunner{result: command.Result{ExitCode: -1}, err: errors.New("exec: \"python3\": executable file not found in $PATH")}

	_, err := NewInvokerWith(testConfig(), runner, nil).Run(context.Background(), job)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *Failure", err)
	}
	if !strings.Contains(failure.Detail, "executable file not found") {
		t.Fatalf("detail = %q", failure.Detail)
	}

	_, err = NewInvokerWith(testConfig(), &fakeRunner{}, nil).Run(context.Background(), job)
	if !errors.As(err, &failure) || strings.TrimSpace(failure.Detail) == "" {
		t.Fatalf("error = %v, want non-empty detail", err)
	}
}

// TestRunHidesGPUsWhenForced sets an empty CUDA_VISIBLE_DEVICES.
func TestRunHidesGPUsWhenForced(t *testing.T) {
	job := testJob(t)
	runner := &fakeRunner{output: []byte("mp4")}
	if _, err := NewInvokerWith(testConfig(), runner, nil).Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if runner.spec.Name != "python3" {
		t.Fatalf("binary = %s", runner.spec.Name)
	}
	if !reflect.DeepEqual(runner.spec.Env, []string{"CUDA_VISIBLE_DEVICES="}) {
		t.Fatalf("env = %v", runner.spec.Env)
	}

	cfg := testConfig()
	cfg.ForceCPU = false
	runner = &fakeRunner{output: []byte("mp4")}
	if _, err := NewInvokerWith(cfg, runner, nil).Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(runner.spec.Env) != 0 {
		t.Fatalf("env = %v, want parent environment only", runner.spec.Env)
	}
}

// TestRunCancelledReturnsContextError reports cancellation, not failure.
func TestRunCancelledReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewInvokerWith(testConfig(), &fakeRunner{err: context.Canceled}, nil).Run(ctx, testJob(t))
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("error = %v, want context.Canceled only", err)
	}
}

// TestRunPreparesScratchDir creates the program's temp dir under Dir.
func TestRunPreparesScratchDir(t *testing.T) {
	job := testJob(t)
	cfg := testConfig()
	cfg.Dir = filepath.Dir(job.OutputPath)
	runner := &fakeRunner{output: []byte("mp4")}

	if _, err := NewInvokerWith(cfg, runner, nil).Run(context.Background(), job); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if runner.spec.Dir != cfg.Dir {
		t.Fatalf("dir = %s, want %s", runner.spec.Dir, cfg.Dir)
	}
	if info, err := os.Stat(filepath.Join(cfg.Dir, "temp")); err != nil || !info.IsDir() {
		t.Fatalf("scratch dir missing: %v", err)
	}
}
