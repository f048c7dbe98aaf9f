package bootstrap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/config"
	"lipsync-studio/internal/diagnostics"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/jobs"
	"lipsync-studio/internal/logging"
	"lipsync-studio/internal/media"
	"lipsync-studio/internal/metrics"
	"lipsync-studio/internal/pipeline"
	"lipsync-studio/internal/provision"
	"lipsync-studio/internal/workspace"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// ErrBusy means a download, fix or reset holds the work slot.
var ErrBusy = errors.New("another operation is in progress")

// Operations that share the single work slot.
const (
	opJob      = "job"
	opDownload = "model download"
	opFix      = "diagnostic fix"
	opReset    = "workspace reset"
)

var imageDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Images",
		Pattern:     "*.jpg;*.jpeg;*.png;*.bmp;*.gif;*.tif;*.tiff",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.wav;*.mp3;*.m4a;*.flac;*.aac;*.ogg",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// StartRequest is the form payload for one lip-sync job.
type StartRequest struct {
	ImagePath   string `json:"imagePath"`
	AudioPath   string `json:"audioPath"`
	Text        string `json:"text"`
	StaticImage bool   `json:"staticImage"`
	Pads        string `json:"pads"`
}

// ImagePreview is a scaled face image ready for an <img> tag.
type ImagePreview struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	DataURI string `json:"dataUri"`
}

// App wires configuration, jobs, pipeline, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Diagnostics domain.DiagnosticReport
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	assets      fs.FS
	checker     *diagnostics.Checker
	registry    *prometheus.Registry
	newPipeline func(settings domain.Settings) pipelineRunner
	fix         func(ctx context.Context, itemID string, settings domain.Settings) error
	environ     func() []string

	mu          sync.Mutex
	busy        string
	activeJobID string
	cancel      context.CancelFunc
	events      *jobs.EventBus
	runtimeCtx  context.Context
}

// pipelineRunner isolates the lip-sync pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Prepare(ctx context.Context) ([]domain.AcquisitionResult, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	appDir := config.AppDir(homeDir)
	if err := config.LoadDotEnv(".env", filepath.Join(appDir, ".env")); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	logger := logging.New(os.Stderr, os.Getenv("LIPSYNC_LOG_LEVEL"), os.Getenv("LIPSYNC_LOG_FORMAT"))
	store := config.NewJSONStore(filepath.Join(appDir, "settings.json"))
	settings, err := config.Load(store, os.Environ())
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Diagnostics: report,
		Logger:      logging.Component(logger, "app"),
		Metrics:     m,
		assets:      assets,
		checker:     checker,
		registry:    registry,
		events:      jobs.NewEventBus(1000),
	}
	app.newPipeline = func(settings domain.Settings) pipelineRunner {
		return pipeline.New(settings, m, logger)
	}
	app.fix = app.applyFix
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Lip Sync Studio",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			cancel := a.cancel
			a.runtimeCtx = nil
			a.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the effective settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.Settings{}, err
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if _, err := domain.ParsePads(normalized.Pads); err != nil {
		return domain.Settings{}, fmt.Errorf("invalid pads: %w", err)
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.DiagnosticReport{}, err
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// PickImageFile opens a native file dialog for the face image.
func (a *App) PickImageFile() (string, error) {
	return a.pickFile("Select face image", imageDialogFilter)
}

// PickAudioFile opens a native file dialog for the speech audio.
func (a *App) PickAudioFile() (string, error) {
	return a.pickFile("Select audio", audioDialogFilter)
}

func (a *App) pickFile(title string, filters []wailsruntime.FileFilter) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   title,
		Filters: filters,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PreviewImage validates the face image and returns a scaled preview.
func (a *App) PreviewImage(path string) (ImagePreview, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return ImagePreview{}, err
	}

	ws := workspace.New(settings.WorkspaceDir)
	dst, err := ws.Path(workspace.PreviewFileName)
	if err != nil {
		return ImagePreview{}, err
	}

	info, err := media.Preview(strings.TrimSpace(path), dst, media.DefaultPreviewWidth, media.DefaultPreviewHeight)
	if err != nil {
		return ImagePreview{}, err
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return ImagePreview{}, fmt.Errorf("read preview: %w", err)
	}

	return ImagePreview{
		Width:   info.Width,
		Height:  info.Height,
		DataURI: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
	}, nil
}

// StartLipSync validates the form, creates a job and runs it asynchronously.
func (a *App) StartLipSync(form StartRequest) (domain.Job, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return domain.Job{}, err
	}

	rawPads := strings.TrimSpace(form.Pads)
	if rawPads == "" {
		rawPads = settings.Pads
	}
	pads, err := domain.ParsePads(rawPads)
	if err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.NewString()
	req := pipeline.Request{
		JobID:       jobID,
		ImagePath:   strings.TrimSpace(form.ImagePath),
		AudioPath:   strings.TrimSpace(form.AudioPath),
		Text:        strings.TrimSpace(form.Text),
		StaticImage: form.StaticImage,
		Pads:        pads,
	}
	if err := pipeline.Validate(req); err != nil {
		return domain.Job{}, err
	}

	release, err := a.acquire(opJob)
	if err != nil {
		return domain.Job{}, err
	}
	if err := a.Jobs.Start(jobID); err != nil {
		release()
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.activeJobID = jobID
	a.cancel = cancel
	a.Settings = settings
	a.mu.Unlock()

	a.publishStatus(jobID, domain.JobStatusCreated, "Job started")
	a.logger().Info("job started", slog.String("job_id", jobID))

	go a.runLipSyncJob(ctx, cancel, release, req, settings)
	return a.Jobs.Current(), nil
}

// CancelLipSync cancels the currently running job, if any.
func (a *App) CancelLipSync() error {
	a.mu.Lock()
	cancel := a.cancel
	activeJobID := a.activeJobID
	a.mu.Unlock()

	if cancel == nil {
		return jobs.ErrNoRunningJob
	}

	cancel()
	if err := a.Jobs.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		return err
	}

	if activeJobID != "" {
		a.publishStatus(activeJobID, domain.JobStatusCancelled, "Cancellation requested")
	}
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// ResetWorkspace empties the workspace. It is refused while a job or any
// other operation holds the work slot.
func (a *App) ResetWorkspace() error {
	release, err := a.acquire(opReset)
	if err != nil {
		return err
	}
	defer release()

	settings, err := a.loadSettings()
	if err != nil {
		return err
	}
	if err := workspace.New(settings.WorkspaceDir).Reset(); err != nil {
		return err
	}

	a.Jobs.Reset()
	a.events.Clear()
	a.logger().Info("workspace reset", slog.String("path", settings.WorkspaceDir))
	return nil
}

// GetModelAssets lists the weight catalog with local presence.
func (a *App) GetModelAssets() ([]domain.ModelAsset, error) {
	settings, err := a.loadSettings()
	if err != nil {
		return nil, err
	}
	p := provision.New(provision.Config{CodeDir: settings.CodeDir, RepositoryURL: settings.RepositoryURL}, nil, a.Logger)
	return p.Status(), nil
}

// DownloadModels runs the setup stages without inference.
func (a *App) DownloadModels() ([]domain.AcquisitionResult, error) {
	release, err := a.acquire(opDownload)
	if err != nil {
		return nil, err
	}
	defer release()

	settings, err := a.loadSettings()
	if err != nil {
		return nil, err
	}

	results, err := a.newPipeline(settings).Prepare(context.Background())
	a.refreshDiagnosticsFromSettings(settings)
	return results, err
}

// JobCounts returns finished job totals by final status.
func (a *App) JobCounts() (map[string]float64, error) {
	counts := map[string]float64{}
	if a.registry == nil {
		return counts, nil
	}

	families, err := a.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	for _, family := range families {
		if family.GetName() != "lipsync_jobs_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "status" {
					counts[label.GetValue()] += metric.GetCounter().GetValue()
				}
			}
		}
	}
	return counts, nil
}

// acquire claims the work slot for op. Jobs, downloads, fixes and resets
// all touch the code tree or workspace, so only one runs at a time. The
// returned release is idempotent.
func (a *App) acquire(op string) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.busy == opJob || (a.Jobs != nil && a.Jobs.IsRunning()):
		return nil, jobs.ErrJobAlreadyRunning
	case a.busy != "":
		return nil, fmt.Errorf("%w: %s", ErrBusy, a.busy)
	}
	a.busy = op

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.busy = ""
			a.mu.Unlock()
		})
	}, nil
}

// runLipSyncJob executes pipeline and maps outcomes to job events.
func (a *App) runLipSyncJob(ctx context.Context, cancel context.CancelFunc, release func(), req pipeline.Request, settings domain.Settings) {
	defer cancel()
	jobID := req.JobID

	req.OnStage = func(status domain.JobStatus) {
		if status == domain.JobStatusSucceeded {
			return
		}
		if err := a.Jobs.Transition(status); err == nil {
			a.publishStatus(jobID, status, "Reached "+string(status))
		}
	}
	req.OnLog = func(log command.Log) {
		a.publishLog(jobID, "Command completed", log)
	}

	result, err := a.newPipeline(settings).Run(ctx, req)
	release()
	job := result.Job
	if job.ID == "" {
		job.ID = jobID
	}

	if err != nil {
		var se *pipeline.StageError
		if !errors.As(err, &se) {
			se = &pipeline.StageError{Kind: domain.ErrorKindUnexpected, Message: err.Error(), Err: err}
		}
		if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusCancelled {
			job.Fail(se.Kind, se.Message)
		}

		if job.Status == domain.JobStatusCancelled || a.Jobs.Current().Status == domain.JobStatusCancelled {
			_ = a.Jobs.Finish(job)
			a.publishStatus(jobID, domain.JobStatusCancelled, "Job cancelled")
			a.clearActiveJob(jobID)
			return
		}

		a.publishEvent(jobs.FailureEvent(jobID, se.Kind, se.Message))
		if se.CommandLog.Command != "" {
			a.publishLog(jobID, "Failed command", se.CommandLog)
		}
		if err := a.Jobs.Finish(job); err == nil {
			a.publishStatus(jobID, domain.JobStatusFailed, "Job failed")
		}
		a.logger().Error("job failed", slog.String("job_id", jobID), slog.String("kind", string(se.Kind)))
		a.clearActiveJob(jobID)
		return
	}

	a.publishEvent(jobs.ResultEvent(job, result.Artifact))
	if err := a.Jobs.Finish(job); err == nil {
		a.publishStatus(jobID, domain.JobStatusSucceeded, "Job completed")
	}
	a.logger().Info("job succeeded", slog.String("job_id", jobID), slog.Int64("bytes", result.Artifact.Size))
	a.clearActiveJob(jobID)
}

func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.StatusEvent(jobID, status, message))
}

func (a *App) publishLog(jobID, message string, log command.Log) {
	a.publishEvent(jobs.LogEvent(jobID, message, log))
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.cancel = nil
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// loadSettings layers the saved file under environment overrides.
func (a *App) loadSettings() (domain.Settings, error) {
	environ := os.Environ
	if a.environ != nil {
		environ = a.environ
	}
	return config.Load(a.Store, environ())
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		return logging.Discard()
	}
	return a.Logger
}
