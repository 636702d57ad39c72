package configs

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
)

// Artifacts is a subset of artifact engine used by manager
type Artifacts interface {
	Get(ctx context.Context, id string) (artifact.Artifact, error)
	Root(ctx context.Context, id string) (artifact.Artifact, error)
	WithRoot(ctx context.Context, id string, fn func(a artifact.Artifact) error) error
	DeleteSubtree(ctx context.Context, id string) (int, error)
}

// Manager handles configs and their links to root artifacts
type Manager struct {
	store     Store
	artifacts Artifacts
}

// NewManager makes config manager, both store and artifacts are required
func NewManager(store Store, artifacts Artifacts) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("config store is not set: %w", errs.ErrConfiguration)
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact engine is not set: %w", errs.ErrConfiguration)
	}
	return &Manager{store: store, artifacts: artifacts}, nil
}

// Save creates config or updates existing one. Empty id makes a new config.
func (m *Manager) Save(ctx context.Context, c Config) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = ids.New()
		c.CreatedAt, c.UpdatedAt = now, now
		if err := m.store.Insert(ctx, c); err != nil {
			return Config{}, err
		}
		log.Printf("[INFO] config %q created, id %s", c.Name, c.ID)
		return c, nil
	}

	id, err := ids.Parse(c.ID)
	if err != nil {
		return Config{}, err
	}
	c.ID = id
	existing, err := m.store.Get(ctx, c.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		c.CreatedAt, c.UpdatedAt = now, now
		if err := m.store.Insert(ctx, c); err != nil {
			return Config{}, err
		}
		log.Printf("[INFO] config %q created, id %s", c.Name, c.ID)
		return c, nil
	case err != nil:
		return Config{}, err
	}
	c.CreatedAt, c.UpdatedAt = existing.CreatedAt, now
	if err := m.store.Update(ctx, c); err != nil {
		return Config{}, err
	}
	log.Printf("[INFO] config %q updated, id %s", c.Name, c.ID)
	return c, nil
}

// Get returns config by id
func (m *Manager) Get(ctx context.Context, id string) (Config, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return Config{}, err
	}
	return m.store.Get(ctx, id)
}

// FindByName returns config by name
func (m *Manager) FindByName(ctx context.Context, name string) (Config, error) {
	return m.store.GetByName(ctx, name)
}

// List returns all configs
func (m *Manager) List(ctx context.Context) ([]Config, error) {
	return m.store.List(ctx)
}

// Delete removes config and every artifact tree linked to it
func (m *Manager) Delete(ctx context.Context, id string) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	linked, err := m.store.LinkedArtifacts(ctx, c.ID)
	if err != nil {
		return err
	}
	removed := 0
	for _, aid := range linked {
		n, err := m.artifacts.DeleteSubtree(ctx, aid)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("can't delete artifacts of config %q: %w", c.Name, err)
		}
		removed += n
	}
	if err := m.store.Delete(ctx, c.ID); err != nil {
		return err
	}
	log.Printf("[INFO] config %q deleted with %d linked artifacts", c.Name, removed)
	return nil
}

// LinkArtifact attaches root artifact to config. Artifact with parent reference can't be linked,
// even if the parent is gone.
func (m *Manager) LinkArtifact(ctx context.Context, configID, artifactID string) error {
	c, err := m.Get(ctx, configID)
	if err != nil {
		return err
	}
	return m.artifacts.WithRoot(ctx, artifactID, func(a artifact.Artifact) error {
		if err := m.store.Link(ctx, c.ID, a.ID); err != nil {
			return err
		}
		log.Printf("[DEBUG] artifact %s linked to config %q", a.ID, c.Name)
		return nil
	})
}

// UnlinkArtifact removes artifact link, no error if not linked
func (m *Manager) UnlinkArtifact(ctx context.Context, artifactID string) error {
	id, err := ids.Lookup(artifactID)
	if err != nil {
		return err
	}
	return m.store.Unlink(ctx, id)
}

// UnlinkFromConfig removes link of artifact to the given config. Unlike UnlinkArtifact it fails with
// errs.ErrNotFound if this exact artifact is not linked to the config.
func (m *Manager) UnlinkFromConfig(ctx context.Context, configID, artifactID string) error {
	c, err := m.Get(ctx, configID)
	if err != nil {
		return err
	}
	id, err := ids.Lookup(artifactID)
	if err != nil {
		return err
	}
	linked, err := m.store.LinkedConfig(ctx, id)
	if err != nil {
		return err
	}
	if linked == nil || linked.ID != c.ID {
		return fmt.Errorf("artifact %s is not linked to config %q: %w", id, c.Name, errs.ErrNotFound)
	}
	if err := m.store.Unlink(ctx, id); err != nil {
		return err
	}
	log.Printf("[DEBUG] artifact %s unlinked from config %q", id, c.Name)
	return nil
}

// ConfigForArtifact returns config linked to the root of artifact's tree, nil if not linked
func (m *Manager) ConfigForArtifact(ctx context.Context, artifactID string) (*Config, error) {
	root, err := m.artifacts.Root(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	return m.store.LinkedConfig(ctx, root.ID)
}

// ArtifactsForConfig returns root artifacts linked to config
func (m *Manager) ArtifactsForConfig(ctx context.Context, configID string) ([]artifact.Artifact, error) {
	c, err := m.Get(ctx, configID)
	if err != nil {
		return nil, err
	}
	linked, err := m.store.LinkedArtifacts(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	res := make([]artifact.Artifact, 0, len(linked))
	for _, id := range linked {
		a, err := m.artifacts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// ConfigForRoot returns summary of config linked to artifact, nil if not linked
func (m *Manager) ConfigForRoot(ctx context.Context, artifactID string) (*artifact.ConfigSummary, error) {
	c, err := m.store.LinkedConfig(ctx, artifactID)
	if err != nil || c == nil {
		return nil, err
	}
	return c.Summary(), nil
}
