package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/environment"
	"lipsync-studio/internal/inference"
	"lipsync-studio/internal/metrics"
	"lipsync-studio/internal/provision"
	"lipsync-studio/internal/publish"
	"lipsync-studio/internal/workspace"
)

// fakeCodec returns a scripted codec bootstrap result.
type fakeCodec struct {
	err   error
	calls int
}

// EnsureCodec records the call.
func (f *fakeCodec) EnsureCodec(context.Context) error {
	f.calls++
	return f.err
}

// fakeModels returns scripted provisioning results.
type fakeModels struct {
	err   error
	calls int
}

// EnsureAll records the call.
func (f *fakeModels) EnsureAll(context.Context) ([]domain.AcquisitionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []domain.AcquisitionResult{{Asset: domain.ModelAsset{Name: "wav2lip_gan.pth", Present: true}}}, nil
}

// fakeInvoker writes output bytes to the job's output path.
type fakeInvoker struct {
	output []byte
	stderr string
	calls  int
	job    domain.Job
}

// Run simulates the inference program.
func (f *fakeInvoker) Run(_ context.Context, job domain.Job) (inference.Outcome, error) {
	f.calls++
	f.job = job
	log := command.Log{Command: "python", Args: []string{"inference.py"}, Stderr: f.stderr}
	if f.output == nil {
		return inference.Outcome{CommandLog: log}, &inference.Failure{CommandLog: log, Detail: f.stderr}
	}
	if err := os.WriteFile(job.OutputPath, f.output, 0o644); err != nil {
		return inference.Outcome{}, err
	}
	return inference.Outcome{CommandLog: log, OutputBytes: int64(len(f.output))}, nil
}

// fakeSpeech returns fixed audio bytes.
type fakeSpeech struct {
	text string
}

// Synthesize records the text.
func (f *fakeSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.text = text
	return []byte("ID3 mp3 frames"), nil
}

type fixture struct {
	root     string
	image    string
	audio    string
	codec    *fakeCodec
	models   *fakeModels
	invoker  *fakeInvoker
	speech   *fakeSpeech
	metrics  *metrics.Metrics
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	inputs := filepath.Join(root, "inputs")
	codeDir := filepath.Join(root, "Wav2Lip")

	image := filepath.Join(inputs, "face.jpg")
	if err := os.MkdirAll(inputs, 0o755); err != nil {
		t.Fatalf("mkdir inputs: %v", err)
	}
	if err := imaging.Save(imaging.New(32, 32, color.NRGBA{R: 180, G: 140, B: 120, A: 255}), image); err != nil {
		t.Fatalf("save face: %v", err)
	}
	audio := filepath.Join(inputs, "voice.wav")
	mustWriteFile(t, audio, "RIFF....WAVEfmt ")
	mustWriteFile(t, provision.EntryPath(codeDir), "device = 'cuda' if torch.cuda.is_available() else 'cpu'\n")

	f := &fixture{
		root:    root,
		image:   image,
		audio:   audio,
		codec:   &fakeCodec{},
		models:  &fakeModels{},
		invoker: &fakeInvoker{output: []byte("\x00\x00\x00\x18ftypmp42 video bytes")},
		speech:  &fakeSpeech{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.pipeline = NewWithDeps(Deps{
		Workspace:   workspace.New(filepath.Join(root, "temp")),
		Environment: f.codec,
		Models:      f.models,
		Invoker:     f.invoker,
		Speech:      f.speech,
		EntryPath:   provision.EntryPath(codeDir),
		Metrics:     f.metrics,
	})
	f.pipeline.newID = func() string { return "job-1" }
	return f
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestRunSucceedsWithPresentAssets covers the full happy path.
func TestRunSucceedsWithPresentAssets(t *testing.T) {
	f := newFixture(t)
	var stages []domain.JobStatus
	var logs []command.Log

	result, err := f.pipeline.Run(context.Background(), Request{
		ImagePath:   f.image,
		AudioPath:   f.audio,
		StaticImage: true,
		Pads:        domain.Pads{0, 0, 0, 0},
		OnStage:     func(status domain.JobStatus) { stages = append(stages, status) },
		OnLog:       func(log command.Log) { logs = append(logs, log) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []domain.JobStatus{
		domain.JobStatusCreated,
		domain.JobStatusEnvReady,
		domain.JobStatusModelsReady,
		domain.JobStatusPatched,
		domain.JobStatusInvoked,
		domain.JobStatusSucceeded,
	}
	if !reflect.DeepEqual(stages, want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	if result.Job.Status != domain.JobStatusSucceeded || result.Job.ErrorKind != domain.ErrorKindNone {
		t.Fatalf("job = %+v", result.Job)
	}
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}

	ws := f.pipeline.Workspace()
	if !ws.Contains(result.Job.ImagePath) || !ws.Contains(result.Job.AudioPath) || !ws.Contains(result.Job.OutputPath) {
		t.Fatalf("job paths not rooted in workspace: %+v", result.Job)
	}
	if !f.invoker.job.StaticImage || f.invoker.job.ID != "job-1" {
		t.Fatalf("invoked job = %+v", f.invoker.job)
	}

	info, err := os.Stat(result.Job.OutputPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("output missing or empty: %v", err)
	}
	decoded, err := publish.DecodeDataURI(result.Artifact.DataURI())
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if !bytes.Equal(decoded, f.invoker.output) {
		t.Fatal("published bytes differ from output")
	}

	entry, err := os.ReadFile(f.pipeline.deps.EntryPath)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if strings.Contains(string(entry), "torch.cuda.is_available()") {
		t.Fatal("entry point was not patched")
	}

	if got := testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("succeeded", "none")); got != 1 {
		t.Fatalf("succeeded jobs = %v, want 1", got)
	}
}

// TestRunInferenceWithoutOutputFails reports inference_failure with a diagnostic.
func TestRunInferenceWithoutOutputFails(t *testing.T) {
	f := newFixture(t)
	f.invoker.output = nil
	f.invoker.stderr = "Face not detected! Ensure the video contains a face in all the frames."

	result, err := f.pipeline.Run(context.Background(), Request{ImagePath: f.image, AudioPath: f.audio, StaticImage: true})
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StageError", err)
	}
	if se.Kind != domain.ErrorKindInference || se.Stage != "inference" {
		t.Fatalf("stage error = %+v", se)
	}
	if !errors.Is(err, inference.ErrInferenceFailure) {
		t.Fatalf("error = %v, want ErrInferenceFailure in chain", err)
	}
	if result.Job.Status != domain.JobStatusFailed || result.Job.ErrorKind != domain.ErrorKindInference {
		t.Fatalf("job = %+v", result.Job)
	}
	if !strings.Contains(result.Job.ErrorDetail, "Face not detected") {
		t.Fatalf("detail = %q", result.Job.ErrorDetail)
	}
	if se.CommandLog.Command != "python" {
		t.Fatalf("command log = %+v", se.CommandLog)
	}
	if got := testutil.ToFloat64(f.metrics.Jobs.WithLabelValues("failed", "inference_failure")); got != 1 {
		t.Fatalf("failed jobs = %v, want 1", got)
	}
}

// TestRunCodecInstallFailureStopsBeforeFetch fails with environment_setup.
func TestRunCodecInstallFailureStopsBeforeFetch(t *testing.T) {
	f := newFixture(t)
	f.codec.err = fmt.Errorf("%w: no supported package manager found", environment.ErrEnvironmentSetup)

	result, err := f.pipeline.Run(context.Background(), Request{ImagePath: f.image, AudioPath: f.audio})
	var se *StageError
	if !errors.As(err, &se) || se.Kind != domain.ErrorKindEnvironmentSetup {
		t.Fatalf("error = %v, want environment_setup", err)
	}
	if result.Job.Status != domain.JobStatusFailed || result.Job.ErrorKind != domain.ErrorKindEnvironmentSetup {
		t.Fatalf("job = %+v", result.Job)
	}
	if f.models.calls != 0 || f.invoker.calls != 0 {
		t.Fatalf("models = %d invoker = %d, want no later stages", f.models.calls, f.invoker.calls)
	}
}

// TestRunAcquisitionFailure maps provisioning errors to acquisition.
func TestRunAcquisitionFailure(t *testing.T) {
	f := newFixture(t)
	f.models.err = &provision.AcquisitionError{
		Asset:      "Wav2Lip",
		CommandLog: command.Log{Command: "git", ExitCode: 128},
		Err:        errors.New("exit status 128"),
	}
	var logs []command.Log

	result, err := f.pipeline.Run(context.Background(), Request{
		ImagePath: f.image,
		AudioPath: f.audio,
		OnLog:     func(log command.Log) { logs = append(logs, log) },
	})
	var se *StageError
	if !errors.As(err, &se) || se.Kind != domain.ErrorKindAcquisition || se.Stage != "models" {
		t.Fatalf("error = %v, want acquisition in models stage", err)
	}
	if result.Job.ErrorKind != domain.ErrorKindAcquisition || f.invoker.calls != 0 {
		t.Fatalf("job = %+v invoker calls = %d", result.Job, f.invoker.calls)
	}
	if len(logs) != 1 || logs[0].Command != "git" {
		t.Fatalf("logs = %+v", logs)
	}
}

// TestRunPatchFailure maps a missing entry point to patch.
func TestRunPatchFailure(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.pipeline.deps.EntryPath); err != nil {
		t.Fatalf("remove entry: %v", err)
	}

	result, err := f.pipeline.Run(context.Background(), Request{ImagePath: f.image, AudioPath: f.audio})
	var se *StageError
	if !errors.As(err, &se) || se.Kind != domain.ErrorKindPatch {
		t.Fatalf("error = %v, want patch", err)
	}
	if result.Job.Status != domain.JobStatusFailed || f.invoker.calls != 0 {
		t.Fatalf("job = %+v invoker calls = %d", result.Job, f.invoker.calls)
	}
}

// TestRunRefusesMissingInputs creates nothing when image or audio is absent.
func TestRunRefusesMissingInputs(t *testing.T) {
	f := newFixture(t)
	requests := []Request{
		{AudioPath: f.audio},
		{ImagePath: f.image},
		{ImagePath: "  ", Text: "hello"},
	}
	for _, req := range requests {
		result, err := f.pipeline.Run(context.Background(), req)
		if !errors.Is(err, ErrMissingInput) {
			t.Fatalf("Run(%+v) error = %v, want ErrMissingInput", req, err)
		}
		if result.Job.ID != "" {
			t.Fatalf("job created for refused request: %+v", result.Job)
		}
	}
	if _, err := os.Stat(f.pipeline.Workspace().Root()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace touched by refused request: %v", err)
	}
	if f.codec.calls != 0 {
		t.Fatalf("codec calls = %d, want 0", f.codec.calls)
	}
}

// TestValidateRejectsNegativePads refuses invalid margins.
func TestValidateRejectsNegativePads(t *testing.T) {
	err := Validate(Request{ImagePath: "face.jpg", AudioPath: "voice.wav", Pads: domain.Pads{0, -1, 0, 0}})
	var se *StageError
	if !errors.As(err, &se) || se.Kind != domain.ErrorKindUnexpected {
		t.Fatalf("error = %v, want unexpected input error", err)
	}
}

// TestRunSynthesizesSpeechFromText writes tts audio into the workspace.
func TestRunSynthesizesSpeechFromText(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Run(context.Background(), Request{ImagePath: f.image, Text: "hello there"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.speech.text != "hello there" {
		t.Fatalf("synthesized text = %q", f.speech.text)
	}
	if filepath.Base(result.Job.AudioPath) != "tts_output.mp3" {
		t.Fatalf("audio path = %s", result.Job.AudioPath)
	}
	data, err := os.ReadFile(result.Job.AudioPath)
	if err != nil || string(data) != "ID3 mp3 frames" {
		t.Fatalf("audio = %q, %v", data, err)
	}
}

// TestRunRejectsNonImageFace fails as unexpected before the environment stage.
func TestRunRejectsNonImageFace(t *testing.T) {
	f := newFixture(t)
	notImage := filepath.Join(f.root, "inputs", "face.png")
	mustWriteFile(t, notImage, "not an image")

	result, err := f.pipeline.Run(context.Background(), Request{ImagePath: notImage, AudioPath: f.audio})
	var se *StageError
	if !errors.As(err, &se) || se.Kind != domain.ErrorKindUnexpected || se.Stage != "input" {
		t.Fatalf("error = %v, want unexpected input error", err)
	}
	if result.Job.Status != domain.JobStatusFailed || f.codec.calls != 0 {
		t.Fatalf("job = %+v codec calls = %d", result.Job, f.codec.calls)
	}
}

// TestRunCancelledBetweenStages stops at the next boundary.
func TestRunCancelledBetweenStages(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := f.pipeline.Run(ctx, Request{
		ImagePath: f.image,
		AudioPath: f.audio,
		OnStage: func(status domain.JobStatus) {
			if status == domain.JobStatusEnvReady {
				cancel()
			}
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if result.Job.Status != domain.JobStatusCancelled || result.Job.ErrorKind != domain.ErrorKindCancelled {
		t.Fatalf("job = %+v", result.Job)
	}
	if f.models.calls != 0 || f.invoker.calls != 0 {
		t.Fatalf("models = %d invoker = %d after cancel", f.models.calls, f.invoker.calls)
	}
}

// TestPrepareRunsSetupStagesOnly never invokes inference.
func TestPrepareRunsSetupStagesOnly(t *testing.T) {
	f := newFixture(t)
	acquisitions, err := f.pipeline.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(acquisitions) != 1 || f.codec.calls != 1 || f.models.calls != 1 || f.invoker.calls != 0 {
		t.Fatalf("acquisitions = %d codec = %d models = %d invoker = %d", len(acquisitions), f.codec.calls, f.models.calls, f.invoker.calls)
	}
}

// scriptedProcess stands in for the inference program behind a real Invoker.
type scriptedProcess struct {
	audioPresent bool
}

// Run checks the audio argument is readable and writes the outfile.
func (s *scriptedProcess) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	flag := func(name string) string {
		for i := 0; i+1 < len(spec.Args); i++ {
			if spec.Args[i] == name {
				return spec.Args[i+1]
			}
		}
		return ""
	}
	if _, err := os.Stat(flag("--audio")); err == nil {
		s.audioPresent = true
	}
	if err := os.WriteFile(flag("--outfile"), []byte("mp4"), 0o644); err != nil {
		return command.Result{ExitCode: 1, Stderr: err.Error()}, err
	}
	return command.Result{}, nil
}

// TestRunKeepsInputNamedLikeOutput stages inputs away from the output name.
func TestRunKeepsInputNamedLikeOutput(t *testing.T) {
	f := newFixture(t)
	audio := filepath.Join(f.root, "inputs", workspace.OutputFileName)
	mustWriteFile(t, audio, "ftyp audio track")

	process := &scriptedProcess{}
	f.pipeline.deps.Invoker = inference.NewInvokerWith(inference.Config{
		EntryPath: f.pipeline.deps.EntryPath,
		Dir:       f.pipeline.Workspace().Root(),
	}, process, nil)

	result, err := f.pipeline.Run(context.Background(), Request{ImagePath: f.image, AudioPath: audio})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Job.AudioPath == result.Job.OutputPath {
		t.Fatalf("audio staged onto output path %s", result.Job.AudioPath)
	}
	if filepath.Base(result.Job.AudioPath) != "input-job-1-output.mp4" {
		t.Fatalf("audio path = %s", result.Job.AudioPath)
	}
	if !process.audioPresent {
		t.Fatal("audio input was removed before inference ran")
	}
}
