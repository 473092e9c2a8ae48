package gateway

import (
	"log/slog"
	"time"

	"github.com/user/chatagent/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single turn against a session for logging.
type Run struct {
	ID        types.RunID
	SessionID types.SessionID
	Mode      string
	Status    RunStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
}

// NewRun creates a Run in the Queued state for the given session.
func NewRun(sessionID types.SessionID, mode string) *Run {
	return &Run{
		ID:        types.NewRunID(),
		SessionID: sessionID,
		Mode:      mode,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Start marks the run as running.
func (r *Run) Start() {
	now := time.Now()
	r.StartedAt = &now
	r.Status = RunStatusRunning
}

// Finish marks the run complete or failed and logs the outcome.
func (r *Run) Finish(err error) {
	now := time.Now()
	r.EndedAt = &now
	r.Error = err
	r.Status = RunStatusComplete
	if err != nil {
		r.Status = RunStatusFailed
	}

	attrs := []any{
		"run_id", string(r.ID),
		"session_id", string(r.SessionID),
		"mode", r.Mode,
		"duration", r.Duration(),
	}
	if err != nil {
		slog.Error("turn failed", append(attrs, "error", err)...)
		return
	}
	slog.Info("turn complete", attrs...)
}

// Duration returns how long the run has been executing, or took to execute.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	if r.EndedAt == nil {
		return time.Since(*r.StartedAt)
	}
	return r.EndedAt.Sub(*r.StartedAt)
}
