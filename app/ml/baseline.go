package ml

import (
	"context"
	"fmt"
	"strconv"
)

// MeanRunner is a baseline model predicting mean of the target column for every future row.
// Config keys: "target" is the target column, "y" by default.
type MeanRunner struct{}

// Train computes mean of the target column
func (MeanRunner) Train(_ context.Context, config map[string]any, data Frame) (any, error) {
	target := targetColumn(config)
	values, err := data.Column(target)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no rows to train on")
	}
	sum := 0.0
	for i, v := range values {
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		sum += f
	}
	return map[string]any{"target": target, "mean": sum / float64(len(values)), "rows": len(values)}, nil
}

// Predict appends prediction column with trained mean to future rows
func (MeanRunner) Predict(_ context.Context, _ map[string]any, model any, _ *Frame, future Frame) (Frame, error) {
	m, ok := model.(map[string]any)
	if !ok {
		return Frame{}, fmt.Errorf("unexpected model %T", model)
	}
	mean, err := toFloat(m["mean"])
	if err != nil {
		return Frame{}, fmt.Errorf("bad model mean: %w", err)
	}
	res := Frame{Columns: append(append([]string{}, future.Columns...), "prediction"), Data: make([][]any, 0, len(future.Data))}
	for _, row := range future.Data {
		res.Data = append(res.Data, append(append([]any{}, row...), mean))
	}
	return res, nil
}

func targetColumn(config map[string]any) string {
	if t, ok := config["target"].(string); ok && t != "" {
		return t
	}
	return "y"
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
