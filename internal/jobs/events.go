package jobs

import (
	"sync"
	"time"

	"lipsync-studio/internal/command"
	"lipsync-studio/internal/domain"
	"lipsync-studio/internal/publish"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus EventType = "status"
	EventTypeLog    EventType = "log"
	EventTypeResult EventType = "result"
	EventTypeError  EventType = "error"
)

// Event is one sequenced progress record for a job. Only the fields that
// belong to its Type are set.
type Event struct {
	Seq        int64            `json:"seq"`
	Timestamp  time.Time        `json:"timestamp"`
	JobID      string           `json:"jobId"`
	Type       EventType        `json:"type"`
	Status     domain.JobStatus `json:"status,omitempty"`
	ErrorKind  domain.ErrorKind `json:"errorKind,omitempty"`
	Message    string           `json:"message,omitempty"`
	Command    string           `json:"command,omitempty"`
	Args       []string         `json:"args,omitempty"`
	ExitCode   int              `json:"exitCode,omitempty"`
	Stdout     string           `json:"stdout,omitempty"`
	Stderr     string           `json:"stderr,omitempty"`
	OutputPath string           `json:"outputPath,omitempty"`
	VideoURI   string           `json:"videoUri,omitempty"`
	Size       int64            `json:"size,omitempty"`
}

// StatusEvent records a state machine step.
func StatusEvent(jobID string, status domain.JobStatus, message string) Event {
	return Event{JobID: jobID, Type: EventTypeStatus, Status: status, Message: message}
}

// LogEvent carries one external command record.
func LogEvent(jobID, message string, log command.Log) Event {
	return Event{
		JobID:    jobID,
		Type:     EventTypeLog,
		Message:  message,
		Command:  log.Command,
		Args:     log.Args,
		ExitCode: log.ExitCode,
		Stdout:   log.Stdout,
		Stderr:   log.Stderr,
	}
}

// FailureEvent reports why a job stopped.
func FailureEvent(jobID string, kind domain.ErrorKind, message string) Event {
	return Event{JobID: jobID, Type: EventTypeError, Status: domain.JobStatusFailed, ErrorKind: kind, Message: message}
}

// ResultEvent hands the published video to the form.
func ResultEvent(job domain.Job, artifact publish.Artifact) Event {
	return Event{
		JobID:      job.ID,
		Type:       EventTypeResult,
		Status:     domain.JobStatusSucceeded,
		Message:    "Video ready",
		OutputPath: job.OutputPath,
		VideoURI:   artifact.DataURI(),
		Size:       artifact.Size,
	}
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if len(b.events) == b.maxEvents {
		copy(b.events, b.events[1:])
		b.events = b.events[:len(b.events)-1]
	}
	b.events = append(b.events, event)
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Seq is strictly increasing, so the first match starts the tail.
	for i, event := range b.events {
		if event.Seq > seq {
			return append([]Event(nil), b.events[i:]...)
		}
	}
	return nil
}

// ForJob returns the buffered events of one job after seq.
func (b *EventBus) ForJob(jobID string, seq int64) []Event {
	var out []Event
	for _, event := range b.Since(seq) {
		if event.JobID == jobID {
			out = append(out, event)
		}
	}
	return out
}

// Clear drops buffered events; sequence numbers keep increasing.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
}
