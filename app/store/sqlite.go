// Package store implements artifact, config and task stores on top of SQLite.
// Artifacts are kept as adjacency-list rows, parent reference is not a foreign key and may dangle.
// Config links are unique on the artifact side and removed together with the config or artifact.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/umputun/arbor/app/errs"
)

// SQLite is a database handle shared by all stores
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens (or creates) database at path and makes schema. ":memory:" makes in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single connection serializes writes and keeps in-memory database alive
	db.SetMaxOpenConns(1)

	res := &SQLite{db: db}
	if err := res.initialize(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (also failed to close db: %v)", err, closeErr)
		}
		return nil, err
	}
	log.Printf("[DEBUG] sqlite database %s opened", path)
	return res, nil
}

// Artifacts returns artifact store
func (s *SQLite) Artifacts() *Artifacts { return &Artifacts{db: s.db, ext: s.db} }

// Configs returns config store
func (s *SQLite) Configs() *Configs { return &Configs{ext: s.db} }

// Tasks returns task store
func (s *SQLite) Tasks() *Tasks { return &Tasks{ext: s.db} }

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) initialize() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set WAL mode: %w", err)
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 0,
			payload_kind TEXT NOT NULL,
			payload TEXT,
			payload_type TEXT NOT NULL DEFAULT '',
			payload_module TEXT NOT NULL DEFAULT '',
			payload_repr TEXT NOT NULL DEFAULT '',
			payload_blob BLOB,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_parent_id ON artifacts(parent_id)`,
		`CREATE TABLE IF NOT EXISTS configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS config_artifacts (
			config_id TEXT NOT NULL REFERENCES configs(id) ON DELETE CASCADE,
			artifact_id TEXT NOT NULL UNIQUE REFERENCES artifacts(id) ON DELETE CASCADE,
			PRIMARY KEY (config_id, artifact_id)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			func TEXT NOT NULL DEFAULT '',
			parameters TEXT NOT NULL DEFAULT '{}',
			parent_id TEXT NOT NULL DEFAULT '',
			retry TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// atomic runs fn in transaction, commits if fn succeeded
func atomic(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// dbErr converts constraint violations to error kinds
func dbErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%s: %w", msg, err)
	}
	switch {
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY || strings.Contains(se.Error(), "FOREIGN KEY"):
		return fmt.Errorf("%s: %v: %w", msg, err, errs.ErrNotFound)
	case se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		strings.Contains(se.Error(), "UNIQUE"):
		return fmt.Errorf("%s: %v: %w", msg, err, errs.ErrConflict)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func toUnix(t time.Time) int64 { return t.UnixNano() }

func fromUnix(n int64) time.Time { return time.Unix(0, n).UTC() }
