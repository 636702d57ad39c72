package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/errs"
)

// Artifacts implements artifact.Store
type Artifacts struct {
	db  *sqlx.DB // nil inside of transaction
	ext sqlx.ExtContext
}

type artifactRow struct {
	ID            string         `db:"id"`
	ParentID      string         `db:"parent_id"`
	Level         int            `db:"level"`
	PayloadKind   string         `db:"payload_kind"`
	Payload       sql.NullString `db:"payload"`
	PayloadType   string         `db:"payload_type"`
	PayloadModule string         `db:"payload_module"`
	PayloadRepr   string         `db:"payload_repr"`
	PayloadBlob   []byte         `db:"payload_blob"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

const artifactColumns = `id, parent_id, level, payload_kind, payload, payload_type, payload_module,
	payload_repr, payload_blob, created_at, updated_at`

// Get returns artifact by id
func (s *Artifacts) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	var row artifactRow
	err := sqlx.GetContext(ctx, s.ext, &row, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return artifact.Artifact{}, fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	return row.artifact()
}

// Insert adds new artifact row
func (s *Artifacts) Insert(ctx context.Context, a artifact.Artifact) error {
	row, err := newArtifactRow(a)
	if err != nil {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, s.ext, `INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (:id, :parent_id, :level, :payload_kind, :payload, :payload_type, :payload_module,
		:payload_repr, :payload_blob, :created_at, :updated_at)`, row)
	return dbErr(err, "failed to insert artifact %s", a.ID)
}

// Update replaces artifact row, created_at is kept
func (s *Artifacts) Update(ctx context.Context, a artifact.Artifact) error {
	row, err := newArtifactRow(a)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, s.ext, `UPDATE artifacts SET parent_id = :parent_id, level = :level,
		payload_kind = :payload_kind, payload = :payload, payload_type = :payload_type,
		payload_module = :payload_module, payload_repr = :payload_repr, payload_blob = :payload_blob,
		updated_at = :updated_at WHERE id = :id`, row)
	if err != nil {
		return dbErr(err, "failed to update artifact %s", a.ID)
	}
	return affected(res, "artifact %s", a.ID)
}

// SetLevel updates level only
func (s *Artifacts) SetLevel(ctx context.Context, id string, level int) error {
	res, err := s.ext.ExecContext(ctx, `UPDATE artifacts SET level = ? WHERE id = ?`, level, id)
	if err != nil {
		return fmt.Errorf("failed to set level of %s: %w", id, err)
	}
	return affected(res, "artifact %s", id)
}

// Delete removes artifact row and its config link, children rows are untouched
func (s *Artifacts) Delete(ctx context.Context, id string) error {
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", id, err)
	}
	return nil
}

// Subtree returns artifact and all its descendants, empty list for unknown id
func (s *Artifacts) Subtree(ctx context.Context, id string) ([]artifact.Artifact, error) {
	var rows []artifactRow
	err := sqlx.SelectContext(ctx, s.ext, &rows, `WITH RECURSIVE sub(id) AS (
			SELECT id FROM artifacts WHERE id = ?
			UNION
			SELECT a.id FROM artifacts a JOIN sub ON a.parent_id = sub.id
		)
		SELECT `+artifactColumns+` FROM artifacts WHERE id IN (SELECT id FROM sub)`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtree of %s: %w", id, err)
	}
	return toArtifacts(rows)
}

// Children returns direct children of artifact
func (s *Artifacts) Children(ctx context.Context, id string) ([]artifact.Artifact, error) {
	var rows []artifactRow
	err := sqlx.SelectContext(ctx, s.ext, &rows,
		`SELECT `+artifactColumns+` FROM artifacts WHERE parent_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query children of %s: %w", id, err)
	}
	return toArtifacts(rows)
}

// Atomic runs fn with transaction-bound store. Nested call runs in the outer transaction.
func (s *Artifacts) Atomic(ctx context.Context, fn func(tx artifact.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	return atomic(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(&Artifacts{ext: tx})
	})
}

func newArtifactRow(a artifact.Artifact) (artifactRow, error) {
	row := artifactRow{ID: a.ID, ParentID: a.ParentID, Level: a.Level, PayloadKind: string(a.Payload.Kind),
		CreatedAt: toUnix(a.CreatedAt), UpdatedAt: toUnix(a.UpdatedAt)}
	switch a.Payload.Kind {
	case artifact.KindOpaque:
		if a.Payload.Opaque == nil {
			return artifactRow{}, fmt.Errorf("opaque payload of %s without value: %w", a.ID, errs.ErrValidation)
		}
		row.PayloadType = a.Payload.Opaque.TypeName
		row.PayloadModule = a.Payload.Opaque.Module
		row.PayloadRepr = a.Payload.Opaque.Repr
		row.PayloadBlob = a.Payload.Opaque.Blob
	default:
		row.PayloadKind = string(artifact.KindStructured)
		data, err := json.Marshal(a.Payload.Value)
		if err != nil {
			return artifactRow{}, fmt.Errorf("failed to marshal payload of %s: %v: %w", a.ID, err, errs.ErrValidation)
		}
		row.Payload = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (r artifactRow) artifact() (artifact.Artifact, error) {
	res := artifact.Artifact{ID: r.ID, ParentID: r.ParentID, Level: r.Level,
		CreatedAt: fromUnix(r.CreatedAt), UpdatedAt: fromUnix(r.UpdatedAt)}
	if artifact.PayloadKind(r.PayloadKind) == artifact.KindOpaque {
		res.Payload = artifact.Payload{Kind: artifact.KindOpaque, Opaque: &artifact.OpaqueValue{
			TypeName: r.PayloadType, Module: r.PayloadModule, Repr: r.PayloadRepr, Blob: r.PayloadBlob}}
		return res, nil
	}
	var v any
	if r.Payload.Valid {
		if err := json.Unmarshal([]byte(r.Payload.String), &v); err != nil {
			return artifact.Artifact{}, fmt.Errorf("failed to unmarshal payload of %s: %w", r.ID, err)
		}
	}
	res.Payload = artifact.Structured(v)
	return res, nil
}

func toArtifacts(rows []artifactRow) ([]artifact.Artifact, error) {
	res := make([]artifact.Artifact, 0, len(rows))
	for _, r := range rows {
		a, err := r.artifact()
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// affected returns not found error if no rows were changed
func affected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errs.ErrNotFound)
	}
	return nil
}
