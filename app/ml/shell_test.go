package ml_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/jobs"
	"github.com/umputun/arbor/app/ml"
)

const (
	sumTrainCmd   = `awk -F, 'NR>1 {s+=$2} END {printf "{\"sum\": %d}", s}' {data_file} > {model_file}`
	addPredictCmd = `awk -F, -v m="$(cat {model_file})" 'NR==1 {print $0",prediction"} NR>1 {print $0","$1+m}' {future_file} > {output_file}`
)

func TestShellRunner_Train(t *testing.T) {
	ctx := context.Background()
	data := ml.Frame{Columns: []string{"x", "y"}, Data: [][]any{{1.0, 2.0}, {2.0, 3.5}, {3.0, 4.5}}}

	t.Run("json model", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: sumTrainCmd, PredictCommand: "true"}
		model, err := r.Train(ctx, map[string]any{"scale": 2.0}, data)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"sum": 10.0}, model)
	})

	t.Run("config files in working dir", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: "cp config.json {model_file} && grep -q 'scale: 2' {config_file}"}
		model, err := r.Train(ctx, map[string]any{"scale": 2.0, "name": "m"}, data)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"scale": 2.0, "name": "m"}, model)
	})

	t.Run("non-json model kept as string", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: "echo trained > {model_file}"}
		model, err := r.Train(ctx, nil, data)
		require.NoError(t, err)
		assert.Equal(t, "trained", model)
	})

	t.Run("data file is csv", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: `head -1 {data_file} | sed 's/.*/"&"/' > {model_file}`}
		model, err := r.Train(ctx, nil, data)
		require.NoError(t, err)
		assert.Equal(t, "x,y", model)
	})

	t.Run("failed command", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: "echo broken >&2; exit 3"}
		_, err := r.Train(ctx, nil, data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit code 3")
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("no model file", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: "echo nothing"}
		_, err := r.Train(ctx, nil, data)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not create model file")
	})

	t.Run("working dir removed", func(t *testing.T) {
		r := &ml.ShellRunner{TrainCommand: `printf '"%s"' "$(pwd)" > {model_file}`}
		model, err := r.Train(ctx, nil, data)
		require.NoError(t, err)
		dir, ok := model.(string)
		require.True(t, ok)
		assert.Contains(t, dir, "arbor_ml_train_")
		_, err = os.Stat(dir)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestShellRunner_Predict(t *testing.T) {
	ctx := context.Background()
	future := ml.Frame{Columns: []string{"x", "name"}, Data: [][]any{{1.0, "a"}, {2.5, "b"}}}

	t.Run("predictions from output", func(t *testing.T) {
		r := &ml.ShellRunner{PredictCommand: addPredictCmd}
		res, err := r.Predict(ctx, nil, 100, nil, future)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "name", "prediction"}, res.Columns)
		require.Len(t, res.Data, 2)
		assert.Equal(t, []any{1.0, "a", 101.0}, res.Data[0])
		assert.Equal(t, []any{2.5, "b", 102.5}, res.Data[1])
	})

	t.Run("historic file", func(t *testing.T) {
		r := &ml.ShellRunner{PredictCommand: "cp {historic_file} {output_file}"}
		historic := ml.Frame{Columns: []string{"x", "y"}, Data: [][]any{{1.0, nil}}}
		res, err := r.Predict(ctx, nil, "m", &historic, future)
		require.NoError(t, err)
		assert.Equal(t, historic.Columns, res.Columns)
		assert.Equal(t, [][]any{{1.0, nil}}, res.Data)

		_, err = r.Predict(ctx, nil, "m", nil, future)
		require.Error(t, err, "no historic makes empty file")
		assert.Contains(t, err.Error(), "no header")
	})

	t.Run("failed command", func(t *testing.T) {
		r := &ml.ShellRunner{PredictCommand: "exit 2"}
		_, err := r.Predict(ctx, nil, "m", nil, future)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exit code 2")
	})

	t.Run("no output file", func(t *testing.T) {
		r := &ml.ShellRunner{PredictCommand: "test -s {model_file}"}
		_, err := r.Predict(ctx, nil, "m", nil, future)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "did not create output file")
	})

	t.Run("canceled", func(t *testing.T) {
		r := &ml.ShellRunner{PredictCommand: "sleep 5"}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := r.Predict(cctx, nil, "m", nil, future)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestShellRunner_Validate(t *testing.T) {
	assert.NoError(t, (&ml.ShellRunner{TrainCommand: "a", PredictCommand: "b"}).Validate())
	assert.ErrorIs(t, (&ml.ShellRunner{TrainCommand: "a"}).Validate(), errs.ErrConfiguration)
	assert.ErrorIs(t, (&ml.ShellRunner{PredictCommand: " "}).Validate(), errs.ErrConfiguration)
}

func TestShellRunner_WithManager(t *testing.T) {
	env := prepEnv(t, &ml.ShellRunner{TrainCommand: sumTrainCmd, PredictCommand: strings.ReplaceAll(addPredictCmd,
		"$(cat {model_file})", "$(sed 's/[^0-9]//g' {model_file})")})
	ctx := context.Background()

	cfg, err := env.configs.Save(ctx, configs.Config{Name: "shell"})
	require.NoError(t, err)
	resp, err := env.mgr.Train(ctx, ml.TrainRequest{ConfigID: cfg.ID,
		Data: ml.Frame{Columns: []string{"x", "y"}, Data: [][]any{{1.0, 3.0}, {2.0, 4.0}}}})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, env.wait(t, resp.JobID).Status)

	presp, err := env.mgr.Predict(ctx, ml.PredictRequest{ModelArtifactID: resp.ModelArtifactID,
		Future: ml.Frame{Columns: []string{"x"}, Data: [][]any{{1.0}}}})
	require.NoError(t, err)
	require.Equal(t, jobs.StatusCompleted, env.wait(t, presp.JobID).Status)

	a, err := env.engine.Get(ctx, presp.PredictionArtifactID)
	require.NoError(t, err)
	var pd struct {
		Predictions ml.Frame `json:"predictions"`
	}
	require.NoError(t, a.Payload.Decode(&pd))
	assert.Equal(t, []string{"x", "prediction"}, pd.Predictions.Columns)
	assert.Equal(t, [][]any{{1.0, 8.0}}, pd.Predictions.Data)
}
