package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
	"github.com/umputun/arbor/app/jobs"
)

//go:generate moq -out mocks/configs.go -pkg mocks -skip-ensure -fmt goimports . Configs

// Scheduler submits work as a job
type Scheduler interface {
	AddJob(work jobs.Work) (string, error)
}

// Artifacts reads and saves artifacts
type Artifacts interface {
	Get(ctx context.Context, id string) (artifact.Artifact, error)
	Save(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error)
	Delete(ctx context.Context, id string) error
}

// Configs loads configs and links model artifacts to them
type Configs interface {
	Get(ctx context.Context, id string) (configs.Config, error)
	LinkArtifact(ctx context.Context, configID, artifactID string) error
}

// Params for NewManager, all fields are required
type Params struct {
	Runner    Runner
	Scheduler Scheduler
	Artifacts Artifacts
	Configs   Configs
}

// Manager submits train and predict jobs
type Manager struct {
	Params
}

// NewManager makes ml manager
func NewManager(params Params) (*Manager, error) {
	switch {
	case params.Runner == nil:
		return nil, fmt.Errorf("ml runner is not set: %w", errs.ErrConfiguration)
	case params.Scheduler == nil:
		return nil, fmt.Errorf("scheduler is not set: %w", errs.ErrConfiguration)
	case params.Artifacts == nil:
		return nil, fmt.Errorf("artifact engine is not set: %w", errs.ErrConfiguration)
	case params.Configs == nil:
		return nil, fmt.Errorf("config manager is not set: %w", errs.ErrConfiguration)
	}
	return &Manager{Params: params}, nil
}

// Train checks config and submits training job. Model artifact id is allocated up front,
// the artifact appears when the job is completed.
func (m *Manager) Train(ctx context.Context, req TrainRequest) (TrainResponse, error) {
	cfg, err := m.Configs.Get(ctx, req.ConfigID)
	if err != nil {
		return TrainResponse{}, err
	}
	modelID := ids.New()
	jobID, err := m.Scheduler.AddJob(func(ctx context.Context) (any, error) {
		return m.train(ctx, cfg.ID, req.Data, modelID)
	})
	if err != nil {
		return TrainResponse{}, fmt.Errorf("can't submit training: %w", err)
	}
	log.Printf("[INFO] training with config %q submitted, job %s, model %s", cfg.Name, jobID, modelID)
	return TrainResponse{JobID: jobID, ModelArtifactID: modelID,
		Message: fmt.Sprintf("training job submitted, job id %s", jobID)}, nil
}

// Predict checks model artifact and submits prediction job. Prediction artifact id is allocated up front.
func (m *Manager) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	if _, err := m.Artifacts.Get(ctx, req.ModelArtifactID); err != nil {
		return PredictResponse{}, err
	}
	modelID, _ := ids.Parse(req.ModelArtifactID) // validated by Get
	predictionID := ids.New()
	jobID, err := m.Scheduler.AddJob(func(ctx context.Context) (any, error) {
		return m.predict(ctx, modelID, req.Historic, req.Future, predictionID)
	})
	if err != nil {
		return PredictResponse{}, fmt.Errorf("can't submit prediction: %w", err)
	}
	log.Printf("[INFO] prediction with model %s submitted, job %s, prediction %s", modelID, jobID, predictionID)
	return PredictResponse{JobID: jobID, PredictionArtifactID: predictionID,
		Message: fmt.Sprintf("prediction job submitted, job id %s", jobID)}, nil
}

func (m *Manager) train(ctx context.Context, configID string, data Frame, modelID string) (any, error) {
	cfg, err := m.Configs.Get(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("can't load config %s: %w", configID, err)
	}

	started := time.Now().UTC()
	model, err := m.Runner.Train(ctx, cfg.Data, data)
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}
	completed := time.Now().UTC()
	if _, err := json.Marshal(model); err != nil {
		return nil, fmt.Errorf("model %T is not JSON representable: %v: %w", model, err, errs.ErrValidation)
	}

	payload := modelData{MLType: TypeTrainedModel, ConfigID: cfg.ID, Model: model, ModelType: fmt.Sprintf("%T", model),
		StartedAt: started.Format(time.RFC3339Nano), CompletedAt: completed.Format(time.RFC3339Nano),
		DurationSeconds: seconds(completed.Sub(started))}
	if _, err := m.Artifacts.Save(ctx, artifact.Artifact{ID: modelID, Payload: artifact.Structured(payload)}); err != nil {
		return nil, fmt.Errorf("can't save model: %w", err)
	}
	if err := m.Configs.LinkArtifact(ctx, cfg.ID, modelID); err != nil {
		// unlinked model can't be found by its config, don't leave it behind
		if derr := m.Artifacts.Delete(ctx, modelID); derr != nil {
			log.Printf("[WARN] can't remove unlinked model %s, %v", modelID, derr)
		}
		return nil, fmt.Errorf("can't link model %s to config %q: %w", modelID, cfg.Name, err)
	}
	log.Printf("[INFO] model %s trained in %v", modelID, completed.Sub(started))
	return jobs.ArtifactRef(modelID), nil
}

func (m *Manager) predict(ctx context.Context, modelID string, historic *Frame, future Frame, predictionID string) (any, error) {
	ma, err := m.Artifacts.Get(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("can't load model artifact %s: %w", modelID, err)
	}
	var md modelData
	if err := ma.Payload.Decode(&md); err != nil || md.MLType != TypeTrainedModel {
		return nil, fmt.Errorf("artifact %s is not a trained model: %w", modelID, errs.ErrValidation)
	}
	cfg, err := m.Configs.Get(ctx, md.ConfigID)
	if err != nil {
		return nil, fmt.Errorf("can't load config %s: %w", md.ConfigID, err)
	}

	started := time.Now().UTC()
	predictions, err := m.Runner.Predict(ctx, cfg.Data, md.Model, historic, future)
	if err != nil {
		return nil, fmt.Errorf("prediction failed: %w", err)
	}
	completed := time.Now().UTC()

	payload := predictionData{MLType: TypePrediction, ModelArtifactID: modelID, ConfigID: cfg.ID, Predictions: predictions,
		StartedAt: started.Format(time.RFC3339Nano), CompletedAt: completed.Format(time.RFC3339Nano),
		DurationSeconds: seconds(completed.Sub(started))}
	a := artifact.Artifact{ID: predictionID, ParentID: modelID, Payload: artifact.Structured(payload)}
	if _, err := m.Artifacts.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("can't save prediction: %w", err)
	}
	log.Printf("[INFO] prediction %s made with model %s", predictionID, modelID)
	return jobs.ArtifactRef(predictionID), nil
}

// seconds rounds duration to 2 decimals
func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
