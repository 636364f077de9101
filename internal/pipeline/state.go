package pipeline

import (
	"fmt"
	"time"

	"parley/internal/services"
	"parley/internal/stage"
)

// Status is the lifecycle state of one step within a run.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusSkippedCached Status = "skipped-cached"
)

// Done reports whether a dependent may consume this step's outputs.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusSkippedCached
}

type event string

const (
	eventCacheHit         event = "cache_hit"
	eventStart            event = "start"
	eventSuccess          event = "success"
	eventFailure          event = "failure"
	eventRetry            event = "retry"
	eventDependencyFailed event = "dependency_failed"
)

// retryGuard carries what the failed -> pending transition depends on.
type retryGuard struct {
	attempts    int
	maxAttempts int
	retryable   bool
	canceled    bool
}

func (g retryGuard) allows() bool {
	return g.retryable && !g.canceled && g.attempts < g.maxAttempts
}

// nextStatus is the step state machine:
//
//	pending  -> skipped-cached | running | failed (dependency failed)
//	running  -> succeeded | failed
//	failed   -> pending, while the guard allows a retry
//
// A retry the guard refuses leaves the step failed. Any other pairing is a
// programming error.
func nextStatus(from Status, ev event, guard retryGuard) (Status, error) {
	switch {
	case from == StatusPending && ev == eventCacheHit:
		return StatusSkippedCached, nil
	case from == StatusPending && ev == eventStart:
		return StatusRunning, nil
	case from == StatusPending && ev == eventDependencyFailed:
		return StatusFailed, nil
	case from == StatusRunning && ev == eventSuccess:
		return StatusSucceeded, nil
	case from == StatusRunning && ev == eventFailure:
		return StatusFailed, nil
	case from == StatusFailed && ev == eventRetry:
		if guard.allows() {
			return StatusPending, nil
		}
		return StatusFailed, nil
	default:
		return from, services.Wrap(services.ErrInvariant, "pipeline", "state",
			fmt.Sprintf("illegal transition %s on %s", from, ev), nil)
	}
}

// StepRun is the record of one step within a run.
type StepRun struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	Outputs     []string        `json:"outputs,omitempty"`
	Warnings    []stage.Warning `json:"warnings,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`

	err error
}

// Err returns the failure that ended the step, if any.
func (r StepRun) Err() error { return r.err }

// Duration is the wall time of the last attempt.
func (r StepRun) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
