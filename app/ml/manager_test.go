package ml_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
	"github.com/umputun/arbor/app/jobs"
	"github.com/umputun/arbor/app/ml"
	"github.com/umputun/arbor/app/ml/mocks"
	"github.com/umputun/arbor/app/store"
)

// meanRunner predicts mean of training "y" times config "scale"
var meanRunner = ml.FuncRunner{
	TrainFunc: func(_ context.Context, _ map[string]any, data ml.Frame) (any, error) {
		ys, err := data.Column("y")
		if err != nil {
			return nil, err
		}
		sum := 0.0
		for _, y := range ys {
			sum += y.(float64)
		}
		return map[string]any{"mean": sum / float64(len(ys))}, nil
	},
	PredictFunc: func(_ context.Context, cfg map[string]any, model any, _ *ml.Frame, future ml.Frame) (ml.Frame, error) {
		mean := model.(map[string]any)["mean"].(float64)
		res := ml.Frame{Columns: append(append([]string{}, future.Columns...), "prediction")}
		for _, row := range future.Data {
			res.Data = append(res.Data, append(append([]any{}, row...), mean*cfg["scale"].(float64)))
		}
		return res, nil
	},
}

func TestManager_TrainPredict(t *testing.T) {
	env := prepEnv(t, meanRunner)
	ctx := context.Background()

	cfg, err := env.configs.Save(ctx, configs.Config{Name: "model-cfg", Data: map[string]any{"scale": 2.0}})
	require.NoError(t, err)

	trainResp, err := env.mgr.Train(ctx, ml.TrainRequest{ConfigID: cfg.ID,
		Data: ml.Frame{Columns: []string{"x", "y"}, Data: [][]any{{1.0, 1.0}, {2.0, 3.0}}}})
	require.NoError(t, err)
	job := env.wait(t, trainResp.JobID)
	require.Equal(t, jobs.StatusCompleted, job.Status, "%+v", job.Error)
	require.NotNil(t, job.ArtifactID)
	assert.Equal(t, trainResp.ModelArtifactID, *job.ArtifactID)

	linked, err := env.configs.ConfigForArtifact(ctx, trainResp.ModelArtifactID)
	require.NoError(t, err)
	require.NotNil(t, linked)
	assert.Equal(t, cfg.ID, linked.ID)

	predResp, err := env.mgr.Predict(ctx, ml.PredictRequest{ModelArtifactID: trainResp.ModelArtifactID,
		Future: ml.Frame{Columns: []string{"x"}, Data: [][]any{{3.0}}}})
	require.NoError(t, err)
	job = env.wait(t, predResp.JobID)
	require.Equal(t, jobs.StatusCompleted, job.Status, "%+v", job.Error)
	assert.Equal(t, predResp.PredictionArtifactID, *job.ArtifactID)

	tree, err := env.engine.BuildTree(ctx, trainResp.ModelArtifactID)
	require.NoError(t, err)
	require.NotNil(t, tree)
	assert.Equal(t, "train", tree.LevelLabel)
	assert.Equal(t, "ml", tree.Hierarchy)
	require.NotNil(t, tree.Config)
	assert.Equal(t, "model-cfg", tree.Config.Name)
	require.Len(t, tree.Children, 1)
	pred := tree.Children[0]
	assert.Equal(t, "predict", pred.LevelLabel)
	assert.Equal(t, 1, pred.Level)

	data := pred.Payload.Value.(map[string]any)
	assert.Equal(t, ml.TypePrediction, data["ml_type"])
	predictions := data["predictions"].(map[string]any)
	assert.Equal(t, []any{"x", "prediction"}, predictions["columns"])
	assert.Equal(t, []any{[]any{3.0, 4.0}}, predictions["data"])
}

func TestManager_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown config is rejected on submit", func(t *testing.T) {
		env := prepEnv(t, meanRunner)
		_, err := env.mgr.Train(ctx, ml.TrainRequest{ConfigID: ids.New()})
		assert.ErrorIs(t, err, errs.ErrNotFound)
		_, err = env.mgr.Train(ctx, ml.TrainRequest{ConfigID: "bad"})
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("unknown model is rejected on submit", func(t *testing.T) {
		env := prepEnv(t, meanRunner)
		_, err := env.mgr.Predict(ctx, ml.PredictRequest{ModelArtifactID: ids.New()})
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("training error fails the job", func(t *testing.T) {
		runner := &mocks.RunnerMock{TrainFunc: func(_ context.Context, _ map[string]any, data ml.Frame) (any, error) {
			return nil, errors.New(`column "y" not found`)
		}}
		env := prepEnv(t, runner)
		cfg, err := env.configs.Save(ctx, configs.Config{Name: "c", Data: map[string]any{"k": 1.0}})
		require.NoError(t, err)
		resp, err := env.mgr.Train(ctx, ml.TrainRequest{ConfigID: cfg.ID, Data: ml.Frame{Columns: []string{"x"}}})
		require.NoError(t, err)
		job := env.wait(t, resp.JobID)
		assert.Equal(t, jobs.StatusFailed, job.Status)
		assert.Contains(t, job.Error.Message, `column "y" not found`)
		_, err = env.engine.Get(ctx, resp.ModelArtifactID)
		assert.ErrorIs(t, err, errs.ErrNotFound)

		calls := runner.TrainCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]any{"k": 1.0}, calls[0].Config)
		assert.Equal(t, []string{"x"}, calls[0].Data.Columns)
	})

	t.Run("link error removes the model", func(t *testing.T) {
		env := prepEnv(t, meanRunner)
		cfgs := &mocks.ConfigsMock{
			GetFunc: func(_ context.Context, id string) (configs.Config, error) {
				return configs.Config{ID: id, Name: "c", Data: map[string]any{}}, nil
			},
			LinkArtifactFunc: func(context.Context, string, string) error {
				return fmt.Errorf("config is gone: %w", errs.ErrNotFound)
			},
		}
		mgr, err := ml.NewManager(ml.Params{Runner: meanRunner, Scheduler: env.scheduler, Artifacts: env.engine, Configs: cfgs})
		require.NoError(t, err)

		resp, err := mgr.Train(ctx, ml.TrainRequest{ConfigID: ids.New(),
			Data: ml.Frame{Columns: []string{"y"}, Data: [][]any{{1.0}}}})
		require.NoError(t, err)
		job := env.wait(t, resp.JobID)
		assert.Equal(t, jobs.StatusFailed, job.Status)
		assert.Contains(t, job.Error.Message, "config is gone")

		_, err = env.engine.Get(ctx, resp.ModelArtifactID)
		assert.ErrorIs(t, err, errs.ErrNotFound, "no orphan model left")
		require.Len(t, cfgs.LinkArtifactCalls(), 1)
		assert.Equal(t, resp.ModelArtifactID, cfgs.LinkArtifactCalls()[0].ArtifactID)
	})

	t.Run("model must be json", func(t *testing.T) {
		env := prepEnv(t, ml.FuncRunner{TrainFunc: func(context.Context, map[string]any, ml.Frame) (any, error) {
			return math.NaN(), nil
		}})
		cfg, err := env.configs.Save(ctx, configs.Config{Name: "c"})
		require.NoError(t, err)
		resp, err := env.mgr.Train(ctx, ml.TrainRequest{ConfigID: cfg.ID})
		require.NoError(t, err)
		job := env.wait(t, resp.JobID)
		assert.Equal(t, jobs.StatusFailed, job.Status)
		assert.Equal(t, "validation", job.Error.Kind)
	})

	t.Run("predict with non-model artifact", func(t *testing.T) {
		env := prepEnv(t, meanRunner)
		a, err := env.engine.Save(ctx, artifact.Artifact{Payload: artifact.Structured(map[string]any{"ml_type": "other"})})
		require.NoError(t, err)
		resp, err := env.mgr.Predict(ctx, ml.PredictRequest{ModelArtifactID: a.ID})
		require.NoError(t, err)
		job := env.wait(t, resp.JobID)
		assert.Equal(t, jobs.StatusFailed, job.Status)
		assert.Contains(t, job.Error.Message, "not a trained model")
	})

	t.Run("predict error fails the job", func(t *testing.T) {
		runner := meanRunner
		runner.PredictFunc = func(context.Context, map[string]any, any, *ml.Frame, ml.Frame) (ml.Frame, error) {
			return ml.Frame{}, errors.New("model exploded")
		}
		env := prepEnv(t, runner)
		cfg, err := env.configs.Save(ctx, configs.Config{Name: "c"})
		require.NoError(t, err)
		resp, err := env.mgr.Train(ctx, ml.TrainRequest{ConfigID: cfg.ID,
			Data: ml.Frame{Columns: []string{"y"}, Data: [][]any{{1.0}}}})
		require.NoError(t, err)
		require.Equal(t, jobs.StatusCompleted, env.wait(t, resp.JobID).Status)

		presp, err := env.mgr.Predict(ctx, ml.PredictRequest{ModelArtifactID: resp.ModelArtifactID})
		require.NoError(t, err)
		job := env.wait(t, presp.JobID)
		assert.Equal(t, jobs.StatusFailed, job.Status)
		assert.Contains(t, job.Error.Message, "model exploded")
	})
}

func TestNewManager(t *testing.T) {
	_, err := ml.NewManager(ml.Params{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	_, err = ml.FuncRunner{}.Train(context.Background(), nil, ml.Frame{})
	assert.Error(t, err)
}

type testEnv struct {
	mgr       *ml.Manager
	engine    *artifact.Engine
	configs   *configs.Manager
	scheduler *jobs.Scheduler
}

func (e testEnv) wait(t *testing.T, jobID string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := e.scheduler.Wait(ctx, jobID)
	require.NoError(t, err)
	return job
}

func prepEnv(t *testing.T, runner ml.Runner) testEnv {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	sched := jobs.New(jobs.Params{MaxConcurrency: 1})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
		db.Close()
	})

	eng, err := artifact.NewEngine(db.Artifacts(), artifact.Params{Hierarchy: ml.DefaultHierarchy()})
	require.NoError(t, err)
	cfgs, err := configs.NewManager(db.Configs(), eng)
	require.NoError(t, err)
	eng.SetConfigs(cfgs)

	mgr, err := ml.NewManager(ml.Params{Runner: runner, Scheduler: sched, Artifacts: eng, Configs: cfgs})
	require.NoError(t, err)
	return testEnv{mgr: mgr, engine: eng, configs: cfgs, scheduler: sched}
}
