package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/errs"
)

func TestRegistry(t *testing.T) {
	noop := func(context.Context, map[string]any, Deps) (any, error) { return nil, nil }
	r, err := NewRegistry(Registration{Name: "b", Func: noop}, Registration{Name: "a", Func: noop, Needs: NeedScheduler})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	reg, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, NeedScheduler, reg.Needs)

	_, err = r.Get("c")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, r.Register(Registration{Name: "a", Func: noop}), errs.ErrConflict)
	assert.ErrorIs(t, r.Register(Registration{Name: "c"}), errs.ErrValidation)
	assert.ErrorIs(t, r.Register(Registration{Func: noop}), errs.ErrValidation)

	_, err = NewRegistry(Registration{Name: "x", Func: noop}, Registration{Name: "x", Func: noop})
	assert.ErrorIs(t, err, errs.ErrConflict)
}
