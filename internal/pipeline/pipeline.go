// Package pipeline runs one lip-sync job end to end: codec bootstrap, model
// provisioning, runtime patching, inference and publishing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/environment"
	"lipsync-studio/internal/inference"
	"lipsync-studio/internal/logging"
	"lipsync-studio/internal/media"
	"lipsync-studio/internal/metrics"
	"lipsync-studio/internal/patch"
	"lipsync-studio/internal/provision"
	"lipsync-studio/internal/publish"
	"lipsync-studio/internal/tts"
	"lipsync-studio/internal/workspace"
)

const (
	stageInput       = "input"
	stageEnvironment = "environment"
	stageModels      = "models"
	stagePatch       = "patch"
	stageInference   = "inference"
	stagePublish     = "publish"
)

// CodecEnsurer makes the media codec callable.
type CodecEnsurer interface {
	EnsureCodec(ctx context.Context) error
}

// ModelProvisioner makes the code tree and weights available locally.
type ModelProvisioner interface {
	EnsureAll(ctx context.Context) ([]domain.AcquisitionResult, error)
}

// Invoker runs inference for a job.
type Invoker interface {
	Run(ctx context.Context, job domain.Job) (inference.Outcome, error)
}

// Request contains job inputs and progress callbacks for one run.
type Request struct {
	// JobID is assigned when empty.
	JobID       string
	ImagePath   string
	AudioPath   string
	Text        string
	StaticImage bool
	Pads        domain.Pads
	OnStage     func(status domain.JobStatus)
	OnLog       func(log command.Log)
}

// Result contains the finished job, the published video and stage records.
type Result struct {
	Job          domain.Job
	Artifact     publish.Artifact
	Acquisitions []domain.AcquisitionResult
	Inference    inference.Outcome
}

// Deps are the stage collaborators of a pipeline.
type Deps struct {
	Workspace   *workspace.Manager
	Environment CodecEnsurer
	Models      ModelProvisioner
	Invoker     Invoker
	Speech      tts.Synthesizer
	EntryPath   string
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Pipeline orchestrates the stages. It holds no locks; callers run one job
// at a time.
type Pipeline struct {
	deps         Deps
	logger       *slog.Logger
	patchFile    func(path string) (bool, error)
	inspectImage func(path string) (media.ImageInfo, error)
	present      func(path string) (publish.Artifact, error)
	newID        func() string
	now          func() time.Time
}

// New wires the production stages from settings.
func New(settings domain.Settings, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	codeDir := absPath(settings.CodeDir)
	ws := workspace.New(absPath(settings.WorkspaceDir))

	return NewWithDeps(Deps{
		Workspace:   ws,
		Environment: environment.NewBootstrapper(environment.NewSystemProvider(settings.CodecBinary), logger),
		Models: provision.New(provision.Config{
			CodeDir:       codeDir,
			RepositoryURL: settings.RepositoryURL,
		}, m, logger),
		Invoker: inference.NewInvoker(inference.Config{
			PythonBinary:   settings.PythonBinary,
			EntryPath:      provision.EntryPath(codeDir),
			CheckpointPath: provision.CheckpointPath(codeDir, settings.Checkpoint),
			ForceCPU:       settings.ForceCPU,
			Dir:            ws.Root(),
		}, logger),
		Speech:    tts.NewGoogleTranslate(settings.TTSLanguage, logger),
		EntryPath: provision.EntryPath(codeDir),
		Metrics:   m,
		Logger:    logger,
	})
}

// NewWithDeps builds a pipeline from explicit collaborators.
func NewWithDeps(deps Deps) *Pipeline {
	return &Pipeline{
		deps:         deps,
		logger:       logging.Component(deps.Logger, "pipeline"),
		patchFile:    patch.EnsureCPUOnly,
		inspectImage: media.Inspect,
		present:      publish.Present,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// Workspace returns the workspace the pipeline writes into.
func (p *Pipeline) Workspace() *workspace.Manager {
	return p.deps.Workspace
}

// Validate refuses requests without an image or an audio source. It has no
// side effects.
func Validate(req Request) error {
	if strings.TrimSpace(req.ImagePath) == "" {
		return &StageError{Kind: domain.ErrorKindUnexpected, Stage: stageInput, Message: "an image is required", Err: ErrMissingInput}
	}
	if strings.TrimSpace(req.AudioPath) == "" && strings.TrimSpace(req.Text) == "" {
		return &StageError{Kind: domain.ErrorKindUnexpected, Stage: stageInput, Message: "an audio file or text is required", Err: ErrMissingInput}
	}
	if err := req.Pads.Validate(); err != nil {
		return &StageError{Kind: domain.ErrorKindUnexpected, Stage: stageInput, Message: err.Error(), Err: err}
	}
	return nil
}

// Run executes every stage for req. Any failure aborts the remaining stages
// and is returned as a *StageError; Result.Job then records the cause.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if err := Validate(req); err != nil {
		return Result{}, err
	}

	var result Result
	job, err := p.createJob(ctx, req)
	if err != nil {
		job.ID = req.JobID
		return p.fail(result, job, stageError(stageInput, domain.ErrorKindUnexpected, err))
	}
	result.Job = job
	p.advance(&result.Job, req, domain.JobStatusCreated)
	p.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("image", job.ImagePath),
		slog.String("audio", job.AudioPath),
	)

	acquisitions, err := p.prepare(ctx, &result.Job, req)
	result.Acquisitions = acquisitions
	if err != nil {
		return p.fail(result, result.Job, err)
	}

	if err := ctx.Err(); err != nil {
		return p.fail(result, result.Job, stageError(stageInference, domain.ErrorKindUnexpected, err))
	}
	started := p.now()
	outcome, err := p.deps.Invoker.Run(ctx, result.Job)
	p.deps.Metrics.ObserveStage(stageInference, p.now().Sub(started))
	result.Inference = outcome
	if outcome.CommandLog.Command != "" && req.OnLog != nil {
		req.OnLog(outcome.CommandLog)
	}
	if err != nil {
		return p.fail(result, result.Job, stageError(stageInference, domain.ErrorKindUnexpected, err))
	}
	p.advance(&result.Job, req, domain.JobStatusInvoked)

	started = p.now()
	artifact, err := p.present(result.Job.OutputPath)
	p.deps.Metrics.ObserveStage(stagePublish, p.now().Sub(started))
	if err != nil {
		return p.fail(result, result.Job, stageError(stagePublish, domain.ErrorKindUnexpected, err))
	}
	result.Artifact = artifact
	p.advance(&result.Job, req, domain.JobStatusSucceeded)

	p.deps.Metrics.JobFinished(string(domain.JobStatusSucceeded), "")
	p.logger.Info("job succeeded",
		slog.String("job_id", result.Job.ID),
		slog.String("output", result.Job.OutputPath),
		slog.Int64("bytes", artifact.Size),
	)
	return result, nil
}

// Prepare runs the environment, provisioning and patch stages without a job.
func (p *Pipeline) Prepare(ctx context.Context) ([]domain.AcquisitionResult, error) {
	job := domain.Job{Status: domain.JobStatusCreated}
	return p.prepare(ctx, &job, Request{})
}

func (p *Pipeline) prepare(ctx context.Context, job *domain.Job, req Request) ([]domain.AcquisitionResult, error) {
	if err := p.stage(ctx, stageEnvironment, func() error {
		return p.deps.Environment.EnsureCodec(ctx)
	}); err != nil {
		return nil, err
	}
	p.advance(job, req, domain.JobStatusEnvReady)

	var acquisitions []domain.AcquisitionResult
	if err := p.stage(ctx, stageModels, func() error {
		var err error
		acquisitions, err = p.deps.Models.EnsureAll(ctx)
		return err
	}); err != nil {
		var se *StageError
		if errors.As(err, &se) && se.CommandLog.Command != "" && req.OnLog != nil {
			req.OnLog(se.CommandLog)
		}
		return acquisitions, err
	}
	p.advance(job, req, domain.JobStatusModelsReady)

	if err := p.stage(ctx, stagePatch, func() error {
		changed, err := p.patchFile(p.deps.EntryPath)
		if changed {
			p.logger.Info("entry point patched for CPU-only inference", slog.String("path", p.deps.EntryPath))
		}
		return err
	}); err != nil {
		return acquisitions, err
	}
	p.advance(job, req, domain.JobStatusPatched)
	return acquisitions, nil
}

// stage checks for cancellation, runs fn and times it.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return stageError(name, domain.ErrorKindUnexpected, err)
	}

	p.logger.Debug("stage started", slog.String("stage", name))
	started := p.now()
	err := fn()
	p.deps.Metrics.ObserveStage(name, p.now().Sub(started))
	if err != nil {
		return stageError(name, domain.ErrorKindUnexpected, err)
	}
	return nil
}

// createJob imports inputs into the workspace and resolves the audio path,
// synthesizing speech when only text was given.
func (p *Pipeline) createJob(ctx context.Context, req Request) (domain.Job, error) {
	ws := p.deps.Workspace
	if err := ws.Ensure(); err != nil {
		return domain.Job{}, err
	}

	id := strings.TrimSpace(req.JobID)
	if id == "" {
		id = p.newID()
	}

	imagePath, err := ws.Import(id, req.ImagePath)
	if err != nil {
		return domain.Job{}, err
	}
	if _, err := p.inspectImage(imagePath); err != nil {
		return domain.Job{}, err
	}

	audioPath := strings.TrimSpace(req.AudioPath)
	if audioPath != "" {
		audioPath, err = ws.Import(id, audioPath)
		if err != nil {
			return domain.Job{}, err
		}
	} else {
		audioPath, err = p.synthesize(ctx, req.Text)
		if err != nil {
			return domain.Job{}, err
		}
	}

	return domain.Job{
		ID:          id,
		ImagePath:   absPath(imagePath),
		AudioPath:   absPath(audioPath),
		StaticImage: req.StaticImage,
		Pads:        req.Pads,
		OutputPath:  absPath(ws.OutputPath()),
	}, nil
}

func (p *Pipeline) synthesize(ctx context.Context, text string) (string, error) {
	if p.deps.Speech == nil {
		return "", fmt.Errorf("%w: text-to-speech is not configured", ErrMissingInput)
	}
	audio, err := p.deps.Speech.Synthesize(ctx, text)
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}
	return p.deps.Workspace.Write(workspace.SpeechFileName, audio)
}

func (p *Pipeline) advance(job *domain.Job, req Request, status domain.JobStatus) {
	job.Status = status
	if req.OnStage != nil {
		req.OnStage(status)
	}
}

// fail records err on job and finishes the run.
func (p *Pipeline) fail(result Result, job domain.Job, err error) (Result, error) {
	se := stageError(stageInput, domain.ErrorKindUnexpected, err)
	job.Fail(se.Kind, se.Message)
	result.Job = job

	p.deps.Metrics.JobFinished(string(job.Status), string(se.Kind))
	p.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("stage", se.Stage),
		slog.String("kind", string(se.Kind)),
		slog.String("detail", se.Message),
	)
	return result, se
}

func absPath(path string) string {
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
