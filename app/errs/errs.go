// Package errs defines error kinds shared by all arbor packages. Callers wrap them with context
// and check with errors.Is.
package errs

import "errors"

var (
	// ErrNotFound returned for unknown artifact, config, task or job ids
	ErrNotFound = errors.New("not found")
	// ErrValidation returned for structurally invalid requests, e.g. linking a non-root artifact
	ErrValidation = errors.New("validation failed")
	// ErrConflict returned on duplicate names or links
	ErrConflict = errors.New("conflict")
	// ErrConfiguration returned when an operation needs a collaborator which is not configured
	ErrConfiguration = errors.New("not configured")
)
