package task

import (
	"context"
	"fmt"
	"time"

	"github.com/umputun/arbor/app/errs"
)

// Builtins returns funcs available to func tasks out of the box:
//   - echo returns its parameters
//   - sleep waits for "duration" (go duration format) or until canceled
//   - config returns data of config named by "name" parameter
func Builtins() []Registration {
	return []Registration{
		{Name: "echo", Func: echoFunc},
		{Name: "sleep", Func: sleepFunc},
		{Name: "config", Func: configFunc, Needs: NeedConfigs},
	}
}

func echoFunc(_ context.Context, params map[string]any, _ Deps) (any, error) {
	return params, nil
}

func sleepFunc(ctx context.Context, params map[string]any, _ Deps) (any, error) {
	d, err := durationParam(params, "duration")
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func configFunc(ctx context.Context, params map[string]any, deps Deps) (any, error) {
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("config name parameter is required: %w", errs.ErrValidation)
	}
	c, err := deps.Configs.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": c.ID, "name": c.Name, "data": c.Data}, nil
}

func durationParam(params map[string]any, key string) (time.Duration, error) {
	v, ok := params[key].(string)
	if !ok {
		return 0, fmt.Errorf("%s parameter is required: %w", key, errs.ErrValidation)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %v: %w", key, v, err, errs.ErrValidation)
	}
	return d, nil
}
