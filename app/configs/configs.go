// Package configs manages named configuration records and their links to root artifacts.
// A config links to any number of root artifacts, an artifact links to at most one config.
// Deleting a config deletes every artifact tree linked to it.
package configs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/errs"
)

// Config is a named record with arbitrary data
type Config struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Validate checks required fields
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("config name is empty: %w", errs.ErrValidation)
	}
	return nil
}

// Summary returns short view used in tree decoration
func (c Config) Summary() *artifact.ConfigSummary {
	return &artifact.ConfigSummary{ID: c.ID, Name: c.Name, Data: c.Data}
}

// Store keeps configs and config-artifact links. Get and GetByName return errs.ErrNotFound for
// unknown records, Insert and Update return errs.ErrConflict for duplicate name, Link returns
// errs.ErrConflict if artifact already linked. LinkedConfig returns nil if artifact not linked.
type Store interface {
	Get(ctx context.Context, id string) (Config, error)
	GetByName(ctx context.Context, name string) (Config, error)
	List(ctx context.Context) ([]Config, error)
	Insert(ctx context.Context, c Config) error
	Update(ctx context.Context, c Config) error
	Delete(ctx context.Context, id string) error
	Link(ctx context.Context, configID, artifactID string) error
	Unlink(ctx context.Context, artifactID string) error
	LinkedConfig(ctx context.Context, artifactID string) (*Config, error)
	LinkedArtifacts(ctx context.Context, configID string) ([]string, error)
}
