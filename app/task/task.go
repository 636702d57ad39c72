// Package task executes reusable task templates as scheduler jobs. Every execution stores its
// outcome as a new artifact and the job's artifact id points to it.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/umputun/arbor/app/errs"
)

// Kind of task
type Kind string

// task kinds
const (
	KindShell Kind = "shell" // external command run with sh -c
	KindFunc  Kind = "func"  // registered in-process function
)

// Task is a stored template of work
type Task struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Kind       Kind           `json:"kind"`
	Command    string         `json:"command,omitempty"`
	Func       string         `json:"func,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	ParentID   string         `json:"parent_id,omitempty"` // optional parent for result artifacts
	Retry      Retry          `json:"retry,omitzero"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Retry defines how shell task is repeated on non-zero exit code
type Retry struct {
	Attempts int    `json:"attempts,omitempty"`
	Delay    string `json:"delay,omitempty"` // initial backoff delay, go duration format
}

// Validate checks task fields for its kind
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("task name is empty: %w", errs.ErrValidation)
	}
	switch t.Kind {
	case KindShell:
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("shell task %q without command: %w", t.Name, errs.ErrValidation)
		}
	case KindFunc:
		if t.Func == "" {
			return fmt.Errorf("func task %q without func name: %w", t.Name, errs.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown task kind %q: %w", t.Kind, errs.ErrValidation)
	}
	if t.Retry.Attempts < 0 {
		return fmt.Errorf("negative retry attempts for %q: %w", t.Name, errs.ErrValidation)
	}
	if _, err := t.Retry.delay(); err != nil {
		return fmt.Errorf("bad retry delay for %q: %v: %w", t.Name, err, errs.ErrValidation)
	}
	return nil
}

func (r Retry) delay() (time.Duration, error) {
	if r.Delay == "" {
		return time.Second, nil
	}
	return time.ParseDuration(r.Delay)
}

// Store keeps tasks. Get and GetByName return errs.ErrNotFound for unknown task,
// Insert and Update return errs.ErrConflict for duplicate name.
type Store interface {
	Get(ctx context.Context, id string) (Task, error)
	GetByName(ctx context.Context, name string) (Task, error)
	List(ctx context.Context) ([]Task, error)
	Insert(ctx context.Context, t Task) error
	Update(ctx context.Context, t Task) error
	Delete(ctx context.Context, id string) error
}
