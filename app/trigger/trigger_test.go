package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/conditions"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/jobs"
	"github.com/umputun/arbor/app/trigger/mocks"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	t.Run("valid", func(t *testing.T) {
		f, err := Load(write("ok.yml", `
triggers:
  - name: nightly-train
    spec: "0 2 * * *"
    task: train
  - spec: "@hourly"
    task: cleanup
`))
		require.NoError(t, err)
		require.Len(t, f.Triggers, 2)
		assert.Equal(t, "nightly-train", f.Triggers[0].Key())
		assert.Equal(t, "cleanup @hourly", f.Triggers[1].Key())
	})

	t.Run("with conditions", func(t *testing.T) {
		f, err := Load(write("cond.yml", `
triggers:
  - spec: "@daily"
    task: report
    conditions:
      load_avg_below: 4.5
      disk_free_above: 10
      disk_free_path: /tmp
`))
		require.NoError(t, err)
		c := f.Triggers[0].Conditions
		require.NotNil(t, c.LoadAvgBelow)
		assert.InDelta(t, 4.5, *c.LoadAvgBelow, 0.001)
		require.NotNil(t, c.DiskFreeAbove)
		assert.Equal(t, 10, *c.DiskFreeAbove)
		assert.Equal(t, "/tmp", c.DiskFreePath)
	})

	t.Run("bad conditions", func(t *testing.T) {
		_, err := Load(write("badcond.yml", "triggers:\n  - spec: \"@daily\"\n    task: x\n    conditions:\n      cpu_below: 200\n"))
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("bad spec", func(t *testing.T) {
		_, err := Load(write("bad.yml", "triggers:\n  - spec: \"blah\"\n    task: x\n"))
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("no task", func(t *testing.T) {
		_, err := Load(write("notask.yml", "triggers:\n  - spec: \"@daily\"\n"))
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(write("broken.yml", "triggers: [\n"))
		assert.ErrorIs(t, err, errs.ErrValidation)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"triggers"`)
	assert.Contains(t, string(data), `"spec"`)
	assert.Contains(t, string(data), `"cpu_below"`)
}

func TestService_Fire(t *testing.T) {
	var submitErr error
	var submitted atomic.Int32
	sub := &mocks.SubmitterMock{ExecuteFunc: func(context.Context, string) (string, error) {
		if submitErr != nil {
			return "", submitErr
		}
		return fmt.Sprintf("job-%d", submitted.Add(1)), nil
	}}
	release := make(chan struct{})
	w := &mocks.WaiterMock{WaitFunc: func(ctx context.Context, id string) (jobs.Job, error) {
		select {
		case <-release:
			return jobs.Job{ID: id, Status: jobs.StatusCompleted}, nil
		case <-ctx.Done():
			return jobs.Job{}, ctx.Err()
		}
	}}
	okChecker := &mocks.CheckerMock{CheckFunc: func(context.Context, conditions.Config) (bool, string) { return true, "" }}
	svc, err := New(Params{Submitter: sub, Waiter: w, Checker: okChecker})
	require.NoError(t, err)
	ctx := context.Background()
	spec := Spec{Name: "t1", Spec: "@hourly", Task: "echo"}

	svc.fire(ctx, spec)
	assert.Equal(t, int32(1), submitted.Load())
	svc.fire(ctx, spec) // previous is still active
	assert.Equal(t, int32(1), submitted.Load())
	assert.Equal(t, "job-1", svc.dedup.Job("t1"))
	require.Len(t, okChecker.CheckCalls(), 1, "not checked while active")

	close(release)
	require.Eventually(t, func() bool { return svc.dedup.Job("t1") == "" }, time.Second, time.Millisecond)
	svc.fire(ctx, spec)
	assert.Equal(t, int32(2), submitted.Load())
	require.Len(t, sub.ExecuteCalls(), 2)
	assert.Equal(t, "echo", sub.ExecuteCalls()[1].IdOrName)

	t.Run("conditions not met", func(t *testing.T) {
		checker := &mocks.CheckerMock{CheckFunc: func(context.Context, conditions.Config) (bool, string) {
			return false, "load too high"
		}}
		svc.Checker = checker
		defer func() { svc.Checker = okChecker }()
		before := len(sub.ExecuteCalls())
		svc.fire(ctx, Spec{Name: "t3", Spec: "@hourly", Task: "echo", Conditions: conditions.Config{Custom: "false"}})
		assert.Len(t, sub.ExecuteCalls(), before)
		require.Len(t, checker.CheckCalls(), 1)
		assert.Equal(t, "false", checker.CheckCalls()[0].C.Custom)
		assert.True(t, svc.dedup.Add("t3"), "released after skip")
	})

	t.Run("submit error releases trigger", func(t *testing.T) {
		submitErr = fmt.Errorf("no such task: %w", errs.ErrNotFound)
		spec := Spec{Name: "t2", Spec: "@hourly", Task: "ghost"}
		svc.fire(ctx, spec)
		assert.True(t, svc.dedup.Add("t2"), "not registered after failure")
	})
}

func TestService_Run(t *testing.T) {
	sub := &mocks.SubmitterMock{ExecuteFunc: func(_ context.Context, task string) (string, error) {
		return "job-" + task, nil
	}}
	w := &mocks.WaiterMock{WaitFunc: func(_ context.Context, id string) (jobs.Job, error) {
		return jobs.Job{ID: id, Status: jobs.StatusCompleted}, nil
	}}
	var mu sync.Mutex
	var entries int
	fc := &mocks.CronMock{
		StartFunc: func() {},
		StopFunc: func() context.Context {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx
		},
		ScheduleFunc: func(cron.Schedule, cron.Job) cron.EntryID {
			mu.Lock()
			defer mu.Unlock()
			entries++
			return cron.EntryID(entries)
		},
	}
	svc, err := New(Params{Cron: fc, Submitter: sub, Waiter: w})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- svc.Run(ctx, []Spec{{Spec: "*/5 * * * *", Task: "a"}, {Spec: "@daily", Task: "b"}}) }()

	require.Eventually(t, func() bool { return len(fc.StartCalls()) == 1 }, time.Second, time.Millisecond)
	scheduled := fc.ScheduleCalls()
	require.Len(t, scheduled, 2)
	scheduled[0].Cmd.Run()
	scheduled[1].Cmd.Run()
	calls := sub.ExecuteCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].IdOrName)
	assert.Equal(t, "b", calls[1].IdOrName)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, fc.StopCalls(), 1)

	_, err = New(Params{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestDeDup(t *testing.T) {
	d := NewDeDup()
	assert.True(t, d.Add("k"))
	assert.False(t, d.Add("k"))
	d.SetJob("k", "j1")
	assert.Equal(t, "j1", d.Job("k"))
	d.Remove("k")
	d.Remove("k")
	assert.Empty(t, d.Job("k"))
	d.SetJob("k", "j2")
	assert.Empty(t, d.Job("k"), "not active")
	assert.True(t, d.Add("k"))
}
