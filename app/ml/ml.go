// Package ml runs train and predict operations as scheduler jobs. Trained model is stored as a root
// artifact linked to its config, every prediction is a child artifact of the model.
package ml

import (
	"context"
	"fmt"

	"github.com/umputun/arbor/app/artifact"
)

// artifact types kept in ml_type field of payload
const (
	TypeTrainedModel = "trained_model"
	TypePrediction   = "prediction"
)

// Frame is a tabular data set, rows follow columns order
type Frame struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// Column returns values of named column
func (f Frame) Column(name string) ([]any, error) {
	idx := -1
	for i, c := range f.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	res := make([]any, 0, len(f.Data))
	for i, row := range f.Data {
		if idx >= len(row) {
			return nil, fmt.Errorf("row %d has no column %q", i, name)
		}
		res = append(res, row[idx])
	}
	return res, nil
}

//go:generate moq -out mocks/runner.go -pkg mocks -skip-ensure -fmt goimports . Runner

// Runner trains and applies models. Model returned by Train must be JSON representable,
// Predict gets it back decoded from JSON.
type Runner interface {
	Train(ctx context.Context, config map[string]any, data Frame) (any, error)
	Predict(ctx context.Context, config map[string]any, model any, historic *Frame, future Frame) (Frame, error)
}

// FuncRunner adapts a pair of funcs to Runner
type FuncRunner struct {
	TrainFunc   func(ctx context.Context, config map[string]any, data Frame) (any, error)
	PredictFunc func(ctx context.Context, config map[string]any, model any, historic *Frame, future Frame) (Frame, error)
}

// Train calls TrainFunc
func (r FuncRunner) Train(ctx context.Context, config map[string]any, data Frame) (any, error) {
	if r.TrainFunc == nil {
		return nil, fmt.Errorf("train func is not set")
	}
	return r.TrainFunc(ctx, config, data)
}

// Predict calls PredictFunc
func (r FuncRunner) Predict(ctx context.Context, config map[string]any, model any, historic *Frame, future Frame) (Frame, error) {
	if r.PredictFunc == nil {
		return Frame{}, fmt.Errorf("predict func is not set")
	}
	return r.PredictFunc(ctx, config, model, historic, future)
}

// DefaultHierarchy labels model artifacts as train and predictions as predict
func DefaultHierarchy() *artifact.Hierarchy {
	return &artifact.Hierarchy{Name: "ml", Labels: map[int]string{0: "train", 1: "predict"}}
}

// TrainRequest to train model with config
type TrainRequest struct {
	ConfigID string `json:"config_id"`
	Data     Frame  `json:"data"`
}

// TrainResponse has ids of submitted job and future model artifact
type TrainResponse struct {
	JobID           string `json:"job_id"`
	ModelArtifactID string `json:"model_artifact_id"`
	Message         string `json:"message"`
}

// PredictRequest to make predictions with trained model
type PredictRequest struct {
	ModelArtifactID string `json:"model_artifact_id"`
	Historic        *Frame `json:"historic,omitempty"`
	Future          Frame  `json:"future"`
}

// PredictResponse has ids of submitted job and future prediction artifact
type PredictResponse struct {
	JobID                string `json:"job_id"`
	PredictionArtifactID string `json:"prediction_artifact_id"`
	Message              string `json:"message"`
}

// modelData is payload of trained model artifact
type modelData struct {
	MLType          string  `json:"ml_type"`
	ConfigID        string  `json:"config_id"`
	Model           any     `json:"model"`
	ModelType       string  `json:"model_type,omitempty"`
	StartedAt       string  `json:"started_at"`
	CompletedAt     string  `json:"completed_at"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// predictionData is payload of prediction artifact
type predictionData struct {
	MLType          string  `json:"ml_type"`
	ModelArtifactID string  `json:"model_artifact_id"`
	ConfigID        string  `json:"config_id"`
	Predictions     Frame   `json:"predictions"`
	StartedAt       string  `json:"started_at"`
	CompletedAt     string  `json:"completed_at"`
	DurationSeconds float64 `json:"duration_seconds"`
}
