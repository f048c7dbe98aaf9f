package domain

// JobStatus tracks each pipeline stage for a single lip-sync job.
type JobStatus string

const (
	JobStatusIdle        JobStatus = "idle"
	JobStatusCreated     JobStatus = "created"
	JobStatusEnvReady    JobStatus = "env_ready"
	JobStatusModelsReady JobStatus = "models_ready"
	JobStatusPatched     JobStatus = "patched"
	JobStatusInvoked     JobStatus = "invoked"
	JobStatusSucceeded   JobStatus = "succeeded"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
)

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindEnvironmentSetup ErrorKind = "environment_setup"
	ErrorKindAcquisition      ErrorKind = "acquisition"
	ErrorKindPatch            ErrorKind = "patch"
	ErrorKindInference        ErrorKind = "inference_failure"
	ErrorKindUnexpected       ErrorKind = "unexpected"
	ErrorKindCancelled        ErrorKind = "cancelled"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	WorkspaceDir  string `json:"workspaceDir" env:"WORKSPACE_DIR"`
	CodeDir       string `json:"codeDir" env:"CODE_DIR"`
	PythonBinary  string `json:"pythonBinary" env:"PYTHON"`
	CodecBinary   string `json:"codecBinary" env:"CODEC"`
	RepositoryURL string `json:"repositoryUrl" env:"REPOSITORY_URL"`
	Checkpoint    string `json:"checkpoint" env:"CHECKPOINT"`
	ForceCPU      bool   `json:"forceCpu" env:"FORCE_CPU"`
	StaticImage   bool   `json:"staticImage" env:"STATIC_IMAGE"`
	Pads          string `json:"pads" env:"PADS"`
	TTSLanguage   string `json:"ttsLanguage" env:"TTS_LANGUAGE"`
}

// Job is one end-to-end request to produce a lip-synced video.
type Job struct {
	ID          string    `json:"id"`
	ImagePath   string    `json:"imagePath"`
	AudioPath   string    `json:"audioPath"`
	StaticImage bool      `json:"staticImage"`
	Pads        Pads      `json:"pads"`
	OutputPath  string    `json:"outputPath"`
	Status      JobStatus `json:"status"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
}

// Fail marks the job failed with a cause and diagnostic text.
func (j *Job) Fail(kind ErrorKind, detail string) {
	j.Status = JobStatusFailed
	if kind == ErrorKindCancelled {
		j.Status = JobStatusCancelled
	}
	j.ErrorKind = kind
	j.ErrorDetail = detail
}
