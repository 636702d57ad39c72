package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/task"
)

// Tasks implements task.Store
type Tasks struct {
	ext sqlx.ExtContext
}

type taskRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Kind       string `db:"kind"`
	Command    string `db:"command"`
	Func       string `db:"func"`
	Parameters string `db:"parameters"`
	ParentID   string `db:"parent_id"`
	Retry      string `db:"retry"`
	CreatedAt  int64  `db:"created_at"`
	UpdatedAt  int64  `db:"updated_at"`
}

// Get returns task by id
func (s *Tasks) Get(ctx context.Context, id string) (task.Task, error) {
	return s.getBy(ctx, "id", id)
}

// GetByName returns task by unique name
func (s *Tasks) GetByName(ctx context.Context, name string) (task.Task, error) {
	return s.getBy(ctx, "name", name)
}

// List returns all tasks ordered by name
func (s *Tasks) List(ctx context.Context) ([]task.Task, error) {
	var rows []taskRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, `SELECT * FROM tasks ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	res := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		t, err := r.task()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// Insert adds task
func (s *Tasks) Insert(ctx context.Context, t task.Task) error {
	row, err := newTaskRow(t)
	if err != nil {
		return err
	}
	_, err = sqlx.NamedExecContext(ctx, s.ext, `INSERT INTO tasks
		(id, name, kind, command, func, parameters, parent_id, retry, created_at, updated_at)
		VALUES (:id, :name, :kind, :command, :func, :parameters, :parent_id, :retry, :created_at, :updated_at)`, row)
	return dbErr(err, "failed to insert task %q", t.Name)
}

// Update changes task, created_at is kept
func (s *Tasks) Update(ctx context.Context, t task.Task) error {
	row, err := newTaskRow(t)
	if err != nil {
		return err
	}
	res, err := sqlx.NamedExecContext(ctx, s.ext, `UPDATE tasks SET name = :name, kind = :kind, command = :command,
		func = :func, parameters = :parameters, parent_id = :parent_id, retry = :retry, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return dbErr(err, "failed to update task %q", t.Name)
	}
	return affected(res, "task %s", t.ID)
}

// Delete removes task
func (s *Tasks) Delete(ctx context.Context, id string) error {
	res, err := s.ext.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return affected(res, "task %s", id)
}

func (s *Tasks) getBy(ctx context.Context, field, value string) (task.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, s.ext, &row, `SELECT * FROM tasks WHERE `+field+` = ?`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("task %s=%s: %w", field, value, errs.ErrNotFound)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to get task %s=%s: %w", field, value, err)
	}
	return row.task()
}

func newTaskRow(t task.Task) (taskRow, error) {
	params := t.Parameters
	if params == nil {
		params = map[string]any{}
	}
	p, err := json.Marshal(params)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to marshal parameters of %q: %v: %w", t.Name, err, errs.ErrValidation)
	}
	r, err := json.Marshal(t.Retry)
	if err != nil {
		return taskRow{}, fmt.Errorf("failed to marshal retry of %q: %w", t.Name, err)
	}
	return taskRow{ID: t.ID, Name: t.Name, Kind: string(t.Kind), Command: t.Command, Func: t.Func,
		Parameters: string(p), ParentID: t.ParentID, Retry: string(r),
		CreatedAt: toUnix(t.CreatedAt), UpdatedAt: toUnix(t.UpdatedAt)}, nil
}

func (r taskRow) task() (task.Task, error) {
	res := task.Task{ID: r.ID, Name: r.Name, Kind: task.Kind(r.Kind), Command: r.Command, Func: r.Func,
		ParentID: r.ParentID, CreatedAt: fromUnix(r.CreatedAt), UpdatedAt: fromUnix(r.UpdatedAt)}
	if err := json.Unmarshal([]byte(r.Parameters), &res.Parameters); err != nil {
		return task.Task{}, fmt.Errorf("failed to unmarshal parameters of %q: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(r.Retry), &res.Retry); err != nil {
		return task.Task{}, fmt.Errorf("failed to unmarshal retry of %q: %w", r.Name, err)
	}
	return res, nil
}
