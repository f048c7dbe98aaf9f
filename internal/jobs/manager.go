package jobs

import (
	"errors"
	"fmt"
	"sync"

	"lipsync-studio/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start creates a new job and moves it to created state.
func (m *Manager) Start(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:     jobID,
		Status: domain.JobStatusCreated,
	}
	return nil
}

// Transition validates and applies state transitions for current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Finish records the final snapshot produced for the current job. A job
// already marked cancelled stays cancelled.
func (m *Manager) Finish(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" || job.ID != m.current.ID {
		return fmt.Errorf("cannot finish unknown job %q", job.ID)
	}
	if !isTerminal(job.Status) {
		return fmt.Errorf("cannot finish job in non-terminal state %s", job.Status)
	}
	if m.current.Status == domain.JobStatusCancelled {
		job.Status = domain.JobStatusCancelled
		job.ErrorKind = domain.ErrorKindCancelled
	} else if !isRunning(m.current.Status) {
		return fmt.Errorf("job %s already finished as %s", job.ID, m.current.Status)
	}

	m.current = job
	return nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset clears job metadata and returns manager to idle.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.Job{Status: domain.JobStatusIdle}
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// Cancel moves an active job to cancelled state.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusCancelled
	m.current.ErrorKind = domain.ErrorKindCancelled
	return nil
}

// isRunning checks if a status represents active pipeline execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusCreated,
		domain.JobStatusEnvReady,
		domain.JobStatusModelsReady,
		domain.JobStatusPatched,
		domain.JobStatusInvoked:
		return true
	default:
		return false
	}
}

func isTerminal(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusSucceeded, domain.JobStatusFailed, domain.JobStatusCancelled:
		return true
	default:
		return false
	}
}

// next lists the forward edge out of each running state.
var next = map[domain.JobStatus]domain.JobStatus{
	domain.JobStatusCreated:     domain.JobStatusEnvReady,
	domain.JobStatusEnvReady:    domain.JobStatusModelsReady,
	domain.JobStatusModelsReady: domain.JobStatusPatched,
	domain.JobStatusPatched:     domain.JobStatusInvoked,
	domain.JobStatusInvoked:     domain.JobStatusSucceeded,
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch {
	case from == domain.JobStatusIdle:
		return to == domain.JobStatusCreated
	case isRunning(from):
		return to == next[from] || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	case isTerminal(from):
		return to == domain.JobStatusCreated || to == domain.JobStatusIdle
	default:
		return false
	}
}
