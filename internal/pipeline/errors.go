package pipeline

import (
	"context"
	"errors"
	"fmt"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/environment"
	"lipsync-studio/internal/inference"
	"lipsync-studio/internal/patch"
	"lipsync-studio/internal/provision"
)

// ErrMissingInput is returned when a request lacks an image or audio source.
var ErrMissingInput = errors.New("missing input")

// StageError is a stage-aware error with optional command context.
type StageError struct {
	Kind       domain.ErrorKind `json:"kind"`
	Stage      string           `json:"stage"`
	Message    string           `json:"message"`
	CommandLog command.Log      `json:"commandLog"`
	Err        error            `json:"-"`
}

// Error formats pipeline failures for logs and UI.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Stage,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// stageError classifies err raised during stage. fallback applies when err
// carries no known sentinel.
func stageError(stage string, fallback domain.ErrorKind, err error) *StageError {
	var existing *StageError
	if errors.As(err, &existing) {
		return existing
	}

	se := &StageError{
		Kind:    classify(err, fallback),
		Stage:   stage,
		Message: err.Error(),
		Err:     err,
	}

	var acqErr *provision.AcquisitionError
	var failure *inference.Failure
	switch {
	case errors.As(err, &failure):
		se.CommandLog = failure.CommandLog
		se.Message = failure.Detail
	case errors.As(err, &acqErr):
		se.CommandLog = acqErr.CommandLog
	}
	if se.Kind == domain.ErrorKindCancelled {
		se.Message = "cancelled"
	}
	return se
}

func classify(err error, fallback domain.ErrorKind) domain.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrorKindCancelled
	case errors.Is(err, environment.ErrEnvironmentSetup):
		return domain.ErrorKindEnvironmentSetup
	case errors.Is(err, provision.ErrAcquisition):
		return domain.ErrorKindAcquisition
	case errors.Is(err, patch.ErrPatch):
		return domain.ErrorKindPatch
	case errors.Is(err, inference.ErrInferenceFailure):
		return domain.ErrorKindInference
	default:
		return fallback
	}
}
