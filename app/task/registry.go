package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/umputun/arbor/app/errs"
)

// Need is a set of collaborators required by registered func
type Need uint8

// capabilities func can ask for
const (
	NeedArtifacts Need = 1 << iota
	NeedScheduler
	NeedConfigs
)

// Func is in-process work of func task. Deps has only collaborators requested by registration.
type Func func(ctx context.Context, params map[string]any, deps Deps) (any, error)

// Registration describes func available to func tasks
type Registration struct {
	Name  string
	Func  Func
	Needs Need
}

// Deps is a set of collaborators resolved for registered func
type Deps struct {
	Artifacts Artifacts
	Scheduler Scheduler
	Configs   Configs
}

// Registry keeps registered funcs by name
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Registration
}

// NewRegistry makes registry with given registrations
func NewRegistry(regs ...Registration) (*Registry, error) {
	res := &Registry{funcs: map[string]Registration{}}
	for _, r := range regs {
		if err := res.Register(r); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Register adds func, name should be unique
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" || reg.Func == nil {
		return fmt.Errorf("registration without name or func: %w", errs.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[reg.Name]; ok {
		return fmt.Errorf("func %q already registered: %w", reg.Name, errs.ErrConflict)
	}
	r.funcs[reg.Name] = reg
	return nil
}

// Get returns registration by name
func (r *Registry) Get(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.funcs[name]
	if !ok {
		return Registration{}, fmt.Errorf("func %q: %w", name, errs.ErrNotFound)
	}
	return reg, nil
}

// Names returns sorted names of registered funcs
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}
