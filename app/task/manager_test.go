package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
	"github.com/umputun/arbor/app/jobs"
)

func TestManager_CRUD(t *testing.T) {
	m, _ := prepManager(t, nil)
	ctx := context.Background()

	tk, err := m.Save(ctx, Task{Name: "echo", Kind: KindShell, Command: "echo 1"})
	require.NoError(t, err)
	assert.Len(t, tk.ID, 36)

	got, err := m.Get(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, tk.ID, got.ID)
	got, err = m.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name)

	tk.Command = "echo 2"
	upd, err := m.Save(ctx, tk)
	require.NoError(t, err)
	assert.Equal(t, tk.CreatedAt, upd.CreatedAt)

	_, err = m.Save(ctx, Task{Name: "echo", Kind: KindShell, Command: "x"})
	assert.ErrorIs(t, err, errs.ErrConflict)

	tbl := []struct {
		name string
		task Task
	}{
		{"no name", Task{Kind: KindShell, Command: "x"}},
		{"no command", Task{Name: "a", Kind: KindShell}},
		{"no func", Task{Name: "a", Kind: KindFunc}},
		{"bad kind", Task{Name: "a", Kind: "blah"}},
		{"bad delay", Task{Name: "a", Kind: KindShell, Command: "x", Retry: Retry{Attempts: 2, Delay: "1parsec"}}},
		{"bad parent", Task{Name: "a", Kind: KindShell, Command: "x", ParentID: "nope"}},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Save(ctx, tt.task)
			assert.ErrorIs(t, err, errs.ErrValidation)
		})
	}

	list, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, m.Delete(ctx, "echo"))
	_, err = m.Get(ctx, tk.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestManager_ExecuteShell(t *testing.T) {
	m, arts := prepManager(t, nil)
	ctx := context.Background()

	parent := ids.New()
	tk, err := m.Save(ctx, Task{Name: "hello", Kind: KindShell, Command: "echo hello; echo oops >&2; exit 2",
		ParentID: parent})
	require.NoError(t, err)

	jobID, err := m.Execute(ctx, tk.Name)
	require.NoError(t, err)
	job := waitJob(t, m, jobID)
	assert.Equal(t, jobs.StatusCompleted, job.Status, "non-zero exit is not a failure")
	require.NotNil(t, job.ArtifactID)

	a := arts.get(*job.ArtifactID)
	assert.Equal(t, parent, a.ParentID)
	payload := a.Payload.Value.(map[string]any)
	assert.Equal(t, "hello", payload["task"])
	assert.Equal(t, "hello", payload["stdout"])
	assert.Equal(t, "oops", payload["stderr"])
	assert.Equal(t, 2, payload["exit_code"])
	assert.Equal(t, 1, payload["attempts"])
}

func TestManager_ExecuteFunc(t *testing.T) {
	m, arts := prepManager(t, nil)
	ctx := context.Background()
	cfgs := &memConfigs{cfg: configs.Config{ID: ids.New(), Name: "scale", Data: map[string]any{"factor": 10.0}}}
	m.Configs = cfgs

	var gotDeps Deps
	require.NoError(t, m.Registry.Register(Registration{Name: "scale", Needs: NeedConfigs | NeedArtifacts,
		Func: func(ctx context.Context, params map[string]any, deps Deps) (any, error) {
			gotDeps = deps
			c, err := deps.Configs.FindByName(ctx, "scale")
			if err != nil {
				return nil, err
			}
			return params["value"].(float64) * c.Data["factor"].(float64), nil
		}}))
	require.NoError(t, m.Registry.Register(Registration{Name: "fail",
		Func: func(context.Context, map[string]any, Deps) (any, error) { return nil, errors.New("bad things") }}))

	_, err := m.Save(ctx, Task{Name: "scale-it", Kind: KindFunc, Func: "scale", Parameters: map[string]any{"value": 4.2}})
	require.NoError(t, err)
	jobID, err := m.Execute(ctx, "scale-it")
	require.NoError(t, err)
	job := waitJob(t, m, jobID)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	payload := arts.get(*job.ArtifactID).Payload.Value.(map[string]any)
	assert.InDelta(t, 42.0, payload["result"], 0.0001)
	assert.Equal(t, "scale", payload["func"])
	assert.NotNil(t, gotDeps.Configs)
	assert.NotNil(t, gotDeps.Artifacts)
	assert.Nil(t, gotDeps.Scheduler, "not requested")

	_, err = m.Save(ctx, Task{Name: "failing", Kind: KindFunc, Func: "fail"})
	require.NoError(t, err)
	jobID, err = m.Execute(ctx, "failing")
	require.NoError(t, err)
	job = waitJob(t, m, jobID)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "bad things", job.Error.Message)

	t.Run("unregistered func", func(t *testing.T) {
		_, err := m.Save(ctx, Task{Name: "ghost", Kind: KindFunc, Func: "ghost"})
		require.NoError(t, err)
		_, err = m.Execute(ctx, "ghost")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("missing capability", func(t *testing.T) {
		m.Configs = nil
		defer func() { m.Configs = cfgs }()
		_, err := m.Execute(ctx, "scale-it")
		assert.ErrorIs(t, err, errs.ErrConfiguration)
	})
}

func TestManager_ExecutePreconditions(t *testing.T) {
	ctx := context.Background()
	st := newMemTaskStore()

	m, err := NewManager(Params{Store: st})
	require.NoError(t, err)
	_, err = m.Execute(ctx, "any")
	assert.ErrorIs(t, err, errs.ErrConfiguration, "no scheduler")

	m.Scheduler = jobs.New(jobs.Params{})
	_, err = m.Execute(ctx, "any")
	assert.ErrorIs(t, err, errs.ErrConfiguration, "no artifacts")

	m.Artifacts = newMemArtifacts()
	_, err = m.Execute(ctx, "any")
	assert.ErrorIs(t, err, errs.ErrNotFound, "no task")

	_, err = NewManager(Params{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func prepManager(t *testing.T, exec Executor) (*Manager, *memArtifacts) {
	t.Helper()
	sched := jobs.New(jobs.Params{MaxConcurrency: 2})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})
	reg, err := NewRegistry()
	require.NoError(t, err)
	arts := newMemArtifacts()
	m, err := NewManager(Params{Store: newMemTaskStore(), Scheduler: sched, Artifacts: arts, Registry: reg,
		Executor: exec})
	require.NoError(t, err)
	return m, arts
}

func waitJob(t *testing.T, m *Manager, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := m.Scheduler.(*jobs.Scheduler).Wait(ctx, id)
	require.NoError(t, err)
	return job
}

type memConfigs struct {
	cfg configs.Config
}

func (f *memConfigs) Get(_ context.Context, id string) (configs.Config, error) {
	if id != f.cfg.ID {
		return configs.Config{}, errs.ErrNotFound
	}
	return f.cfg, nil
}

func (f *memConfigs) FindByName(_ context.Context, name string) (configs.Config, error) {
	if name != f.cfg.Name {
		return configs.Config{}, errs.ErrNotFound
	}
	return f.cfg, nil
}

type memArtifacts struct {
	mu    sync.Mutex
	items map[string]artifact.Artifact
}

func newMemArtifacts() *memArtifacts { return &memArtifacts{items: map[string]artifact.Artifact{}} }

func (f *memArtifacts) Save(_ context.Context, a artifact.Artifact) (artifact.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	f.items[a.ID] = a
	return a, nil
}

func (f *memArtifacts) get(id string) artifact.Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func newMemTaskStore() *memTaskStore { return &memTaskStore{tasks: map[string]Task{}} }

func (s *memTaskStore) Get(_ context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %s: %w", id, errs.ErrNotFound)
	}
	return t, nil
}

func (s *memTaskStore) GetByName(_ context.Context, name string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name == name {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("task %q: %w", name, errs.ErrNotFound)
}

func (s *memTaskStore) List(context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		res = append(res, t)
	}
	return res, nil
}

func (s *memTaskStore) Insert(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return fmt.Errorf("task %q: %w", t.Name, errs.ErrConflict)
		}
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *memTaskStore) Update(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s: %w", t.ID, errs.ErrNotFound)
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *memTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}
