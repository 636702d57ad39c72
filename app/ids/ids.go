// Package ids makes identifiers used for artifacts, configs, tasks and jobs.
// Ids are UUIDv7 strings, time sortable and fixed width. Parse normalizes them to lower case,
// so ids are case-insensitive on input.
package ids

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/umputun/arbor/app/errs"
)

// New makes a fresh time-sortable id
func New() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Parse validates and normalizes id
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, errs.ErrValidation)
	}
	return u.String(), nil
}

// Lookup normalizes id of a record to find. Malformed id can't match any record,
// so it is reported as not found.
func Lookup(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("no record with id %q: %w", s, errs.ErrNotFound)
	}
	return u.String(), nil
}
