package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
)

// Configs implements configs.Store
type Configs struct {
	ext sqlx.ExtContext
}

type configRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Data      string `db:"data"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

// Get returns config by id
func (s *Configs) Get(ctx context.Context, id string) (configs.Config, error) {
	return s.getBy(ctx, "id", id)
}

// GetByName returns config by unique name
func (s *Configs) GetByName(ctx context.Context, name string) (configs.Config, error) {
	return s.getBy(ctx, "name", name)
}

// List returns all configs ordered by name
func (s *Configs) List(ctx context.Context) ([]configs.Config, error) {
	var rows []configRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, `SELECT * FROM configs ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	res := make([]configs.Config, 0, len(rows))
	for _, r := range rows {
		c, err := r.config()
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

// Insert adds config
func (s *Configs) Insert(ctx context.Context, c configs.Config) error {
	row, err := newConfigRow(c)
	if err != nil {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, s.ext, `INSERT INTO configs (id, name, data, created_at, updated_at)
		VALUES (:id, :name, :data, :created_at, :updated_at)`, row)
	return dbErr(err, "failed to insert config %q", c.Name)
}

// Update changes name and data of config
func (s *Configs) Update(ctx context.Context, c configs.Config) error {
	row, err := newConfigRow(c)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, s.ext,
		`UPDATE configs SET name = :name, data = :data, updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return dbErr(err, "failed to update config %q", c.Name)
	}
	return affected(res, "config %s", c.ID)
}

// Delete removes config and its links
func (s *Configs) Delete(ctx context.Context, id string) error {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete config %s: %w", id, err)
	}
	return affected(res, "config %s", id)
}

// Link attaches artifact to config, artifact can be linked once
func (s *Configs) Link(ctx context.Context, configID, artifactID string) error {
	_, err := s.ext.ExecContext(ctx, `INSERT INTO config_artifacts (config_id, artifact_id) VALUES (?, ?)`,
		configID, artifactID)
	return dbErr(err, "failed to link artifact %s to config %s", artifactID, configID)
}

// Unlink removes artifact link if any
func (s *Configs) Unlink(ctx context.Context, artifactID string) error {
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM config_artifacts WHERE artifact_id = ?`, artifactID); err != nil {
		return fmt.Errorf("failed to unlink artifact %s: %w", artifactID, err)
	}
	return nil
}

// LinkedConfig returns config linked to artifact, nil if not linked
func (s *Configs) LinkedConfig(ctx context.Context, artifactID string) (*configs.Config, error) {
	var row configRow
	err := sqlx.GetContext(ctx, s.ext, &row, `SELECT c.* FROM configs c
		JOIN config_artifacts l ON l.config_id = c.id WHERE l.artifact_id = ?`, artifactID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config of artifact %s: %w", artifactID, err)
	}
	c, err := row.config()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LinkedArtifacts returns ids of artifacts linked to config
func (s *Configs) LinkedArtifacts(ctx context.Context, configID string) ([]string, error) {
	res := []string{}
	err := sqlx.SelectContext(ctx, s.ext, &res,
		`SELECT artifact_id FROM config_artifacts WHERE config_id = ? ORDER BY artifact_id`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts of config %s: %w", configID, err)
	}
	return res, nil
}

func (s *Configs) getBy(ctx context.Context, field, value string) (configs.Config, error) {
	var row configRow
	err := sqlx.GetContext(ctx, s.ext, &row, `SELECT * FROM configs WHERE `+field+` = ?`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return configs.Config{}, fmt.Errorf("config %s=%s: %w", field, value, errs.ErrNotFound)
	}
	if err != nil {
		return configs.Config{}, fmt.Errorf("failed to get config %s=%s: %w", field, value, err)
	}
	return row.config()
}

func newConfigRow(c configs.Config) (configRow, error) {
	data := c.Data
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return configRow{}, fmt.Errorf("failed to marshal config %q: %v: %w", c.Name, err, errs.ErrValidation)
	}
	return configRow{ID: c.ID, Name: c.Name, Data: string(b),
		CreatedAt: toUnix(c.CreatedAt), UpdatedAt: toUnix(c.UpdatedAt)}, nil
}

func (r configRow) config() (configs.Config, error) {
	res := configs.Config{ID: r.ID, Name: r.Name, CreatedAt: fromUnix(r.CreatedAt), UpdatedAt: fromUnix(r.UpdatedAt)}
	if err := json.Unmarshal([]byte(r.Data), &res.Data); err != nil {
		return configs.Config{}, fmt.Errorf("failed to unmarshal config %q: %w", r.Name, err)
	}
	return res, nil
}
