package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
	"github.com/umputun/arbor/app/jobs"
)

// Scheduler submits work as a job
type Scheduler interface {
	AddJob(work jobs.Work) (string, error)
}

// Artifacts saves job results
type Artifacts interface {
	Save(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error)
}

// Configs gives read access to configs
type Configs interface {
	Get(ctx context.Context, id string) (configs.Config, error)
	FindByName(ctx context.Context, name string) (configs.Config, error)
}

// Manager keeps tasks and runs them as scheduler jobs
type Manager struct {
	Params
}

// Params for NewManager. Store is required, the rest is checked when task executed.
type Params struct {
	Store     Store
	Scheduler Scheduler
	Artifacts Artifacts
	Configs   Configs
	Registry  *Registry
	Executor  Executor
}

var errNonZeroExit = errors.New("non-zero exit code")

// NewManager makes task manager
func NewManager(params Params) (*Manager, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("task store is not set: %w", errs.ErrConfiguration)
	}
	if params.Executor == nil {
		params.Executor = &ShellExecutor{MaxLines: 100}
	}
	return &Manager{Params: params}, nil
}

// Save creates or updates task. Empty id makes a new task.
func (m *Manager) Save(ctx context.Context, t Task) (Task, error) {
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	if t.ParentID != "" {
		pid, err := ids.Parse(t.ParentID)
		if err != nil {
			return Task{}, err
		}
		t.ParentID = pid
	}
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = ids.New()
		t.CreatedAt, t.UpdatedAt = now, now
		if err := m.Store.Insert(ctx, t); err != nil {
			return Task{}, err
		}
		log.Printf("[INFO] task %q created, id %s", t.Name, t.ID)
		return t, nil
	}

	id, err := ids.Parse(t.ID)
	if err != nil {
		return Task{}, err
	}
	t.ID = id
	existing, err := m.Store.Get(ctx, t.ID)
	if errors.Is(err, errs.ErrNotFound) {
		t.CreatedAt, t.UpdatedAt = now, now
		if err := m.Store.Insert(ctx, t); err != nil {
			return Task{}, err
		}
		return t, nil
	}
	if err != nil {
		return Task{}, err
	}
	t.CreatedAt, t.UpdatedAt = existing.CreatedAt, now
	if err := m.Store.Update(ctx, t); err != nil {
		return Task{}, err
	}
	log.Printf("[INFO] task %q updated", t.Name)
	return t, nil
}

// Get returns task by id or by name
func (m *Manager) Get(ctx context.Context, idOrName string) (Task, error) {
	if id, err := ids.Parse(idOrName); err == nil {
		t, err := m.Store.Get(ctx, id)
		if !errors.Is(err, errs.ErrNotFound) {
			return t, err
		}
	}
	return m.Store.GetByName(ctx, idOrName)
}

// List returns all tasks
func (m *Manager) List(ctx context.Context) ([]Task, error) {
	return m.Store.List(ctx)
}

// Delete removes task
func (m *Manager) Delete(ctx context.Context, idOrName string) error {
	t, err := m.Get(ctx, idOrName)
	if err != nil {
		return err
	}
	return m.Store.Delete(ctx, t.ID)
}

// Execute submits task as a job and returns job id. Missing collaborators, unknown task
// or func are reported right away, failures of the work itself go to the job record.
func (m *Manager) Execute(ctx context.Context, idOrName string) (string, error) {
	if m.Scheduler == nil {
		return "", fmt.Errorf("scheduler is not set: %w", errs.ErrConfiguration)
	}
	if m.Artifacts == nil {
		return "", fmt.Errorf("artifact engine is not set: %w", errs.ErrConfiguration)
	}
	t, err := m.Get(ctx, idOrName)
	if err != nil {
		return "", err
	}

	var work jobs.Work
	switch t.Kind {
	case KindShell:
		work = m.shellWork(t)
	case KindFunc:
		if work, err = m.funcWork(t); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown task kind %q: %w", t.Kind, errs.ErrValidation)
	}

	jobID, err := m.Scheduler.AddJob(work)
	if err != nil {
		return "", fmt.Errorf("can't submit task %q: %w", t.Name, err)
	}
	log.Printf("[INFO] task %q submitted as job %s", t.Name, jobID)
	return jobID, nil
}

// shellWork runs command, repeating on non-zero exit if retry set, and saves the last output
func (m *Manager) shellWork(t Task) jobs.Work {
	return func(ctx context.Context) (any, error) {
		var out Output
		attempts := 0
		run := func() error {
			attempts++
			res, err := m.Executor.Execute(ctx, t.Name, t.Command)
			if err != nil {
				return err
			}
			out = res
			if res.ExitCode != 0 {
				return errNonZeroExit
			}
			return nil
		}

		var err error
		if t.Retry.Attempts > 1 {
			delay, _ := t.Retry.delay() // validated on save
			rpt := repeater.New(&strategy.Backoff{Repeats: t.Retry.Attempts, Duration: delay, Factor: 2, Jitter: true})
			err = rpt.Do(ctx, run)
		} else {
			err = run()
		}
		if err != nil && !errors.Is(err, errNonZeroExit) {
			return nil, err
		}
		if out.ExitCode != 0 {
			log.Printf("[WARN] task %q exited with code %d after %d attempt(s)", t.Name, out.ExitCode, attempts)
			if out.Tail != "" {
				log.Printf("[WARN] task %q last lines, %d dropped:\n%s", t.Name, out.TailDropped, out.Tail)
			}
		}

		payload := map[string]any{"task": t.Name, "command": t.Command, "stdout": out.Stdout,
			"stderr": out.Stderr, "exit_code": out.ExitCode, "attempts": attempts}
		return m.saveResult(ctx, t, payload)
	}
}

// funcWork resolves registered func and its deps at submit time
func (m *Manager) funcWork(t Task) (jobs.Work, error) {
	if m.Registry == nil {
		return nil, fmt.Errorf("func registry is not set: %w", errs.ErrConfiguration)
	}
	reg, err := m.Registry.Get(t.Func)
	if err != nil {
		return nil, err
	}
	deps, err := m.resolve(reg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (any, error) {
		res, err := reg.Func(ctx, t.Parameters, deps)
		if err != nil {
			return nil, err
		}
		payload := map[string]any{"task": t.Name, "func": t.Func, "parameters": t.Parameters, "result": res}
		return m.saveResult(ctx, t, payload)
	}, nil
}

// resolve fills deps requested by registration
func (m *Manager) resolve(reg Registration) (Deps, error) {
	res := Deps{}
	if reg.Needs&NeedArtifacts != 0 {
		res.Artifacts = m.Artifacts
	}
	if reg.Needs&NeedScheduler != 0 {
		res.Scheduler = m.Scheduler
	}
	if reg.Needs&NeedConfigs != 0 {
		if m.Configs == nil {
			return Deps{}, fmt.Errorf("func %q needs configs, not set: %w", reg.Name, errs.ErrConfiguration)
		}
		res.Configs = m.Configs
	}
	return res, nil
}

func (m *Manager) saveResult(ctx context.Context, t Task, payload map[string]any) (any, error) {
	a, err := m.Artifacts.Save(ctx, artifact.Artifact{ParentID: t.ParentID, Payload: artifact.Structured(payload)})
	if err != nil {
		return nil, fmt.Errorf("can't save result of task %q: %w", t.Name, err)
	}
	log.Printf("[DEBUG] task %q result saved as artifact %s", t.Name, a.ID)
	return jobs.ArtifactRef(a.ID), nil
}
