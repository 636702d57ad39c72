// Package jobs runs submitted work with bounded concurrency and keeps in-memory records of every job.
// Records live until explicit delete, job state machine is
// pending -> running -> completed|failed, and pending|running -> canceled.
// Nothing leaves a terminal state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/umputun/arbor/app/errs"
)

// Status of a job
type Status string

// job statuses
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Statuses lists all statuses in lifecycle order
var Statuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled}

// Terminal checks if no transitions possible from the status
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// ParseStatus validates status string
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q: %w", s, errs.ErrValidation)
}

// Job is a snapshot of job record
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	Result      any        `json:"result,omitempty"`
	Error       *ExecError `json:"error,omitempty"`
	ArtifactID  *string    `json:"artifact_id"`
}

// ExecError is a failure captured from job's work
type ExecError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

func (e *ExecError) Error() string { return e.Kind + ": " + e.Message }

// Work is a unit of work run by scheduler. Work should return when ctx is canceled.
type Work func(ctx context.Context) (any, error)

// ArtifactRef returned by work as a result sets artifact id of the job
type ArtifactRef string

// execError makes ExecError from work error
func execError(err error) *ExecError {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee
	}
	kind := "execution"
	switch {
	case errors.Is(err, context.Canceled):
		kind = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	case errors.Is(err, errs.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, errs.ErrValidation):
		kind = "validation"
	case errors.Is(err, errs.ErrConflict):
		kind = "conflict"
	case errors.Is(err, errs.ErrConfiguration):
		kind = "configuration"
	}
	return &ExecError{Kind: kind, Message: err.Error()}
}
