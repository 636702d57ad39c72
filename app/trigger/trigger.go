// Package trigger submits tasks periodically by cron schedules loaded from a yaml file.
// Tick is skipped while the job submitted by the previous tick of the same trigger is still active.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/invopop/jsonschema"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/umputun/arbor/app/conditions"
	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/jobs"
)

// File is the root of triggers yaml file
type File struct {
	Triggers []Spec `yaml:"triggers" json:"triggers" jsonschema:"description=list of triggers"`
}

// Spec defines schedule of a task
type Spec struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"description=trigger name, task is used if empty"`
	Spec string `yaml:"spec" json:"spec" jsonschema:"required,description=standard 5-fields cron spec or @descriptor,example=*/5 * * * *,example=@hourly"`
	Task string `yaml:"task" json:"task" jsonschema:"required,description=task id or name"`

	Conditions conditions.Config `yaml:"conditions,omitempty" json:"conditions,omitzero" jsonschema:"description=host conditions checked on every tick"`
}

// Key is a unique name of the trigger
func (s Spec) Key() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Task + " " + s.Spec
}

// Load reads and validates triggers file
func Load(path string) (File, error) {
	data, err := os.ReadFile(path) // nolint gosec
	if err != nil {
		return File{}, fmt.Errorf("can't read triggers file %s: %w", path, err)
	}
	var res File
	if err := yaml.Unmarshal(data, &res); err != nil {
		return File{}, fmt.Errorf("can't parse triggers file %s: %v: %w", path, err, errs.ErrValidation)
	}
	for i, t := range res.Triggers {
		if strings.TrimSpace(t.Task) == "" {
			return File{}, fmt.Errorf("trigger #%d without task: %w", i, errs.ErrValidation)
		}
		if _, err := cron.ParseStandard(t.Spec); err != nil {
			return File{}, fmt.Errorf("trigger #%d has bad spec %q: %v: %w", i, t.Spec, err, errs.ErrValidation)
		}
		if err := t.Conditions.Validate(); err != nil {
			return File{}, fmt.Errorf("trigger #%d: %w", i, err)
		}
	}
	return res, nil
}

// Schema returns JSON schema of triggers file
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&File{})
}

//go:generate moq -out mocks/submitter.go -pkg mocks -skip-ensure -fmt goimports . Submitter

// Submitter executes task and returns job id
type Submitter interface {
	Execute(ctx context.Context, idOrName string) (string, error)
}

//go:generate moq -out mocks/waiter.go -pkg mocks -skip-ensure -fmt goimports . Waiter

// Waiter waits for job completion
type Waiter interface {
	Wait(ctx context.Context, id string) (jobs.Job, error)
}

//go:generate moq -out mocks/cron.go -pkg mocks -skip-ensure -fmt goimports . Cron

// Cron interface defines basic robfig/cron methods used by service
type Cron interface {
	Start()
	Stop() context.Context
	Schedule(schedule cron.Schedule, cmd cron.Job) cron.EntryID
}

//go:generate moq -out mocks/checker.go -pkg mocks -skip-ensure -fmt goimports . Checker

// Checker checks host conditions
type Checker interface {
	Check(ctx context.Context, c conditions.Config) (bool, string)
}

// Params for New
type Params struct {
	Cron      Cron    // optional, robfig/cron with standard parser if not set
	Checker   Checker // optional, host checker with default limits if not set
	Submitter Submitter
	Waiter    Waiter
}

// Service schedules triggers
type Service struct {
	Params
	dedup *DeDup
}

// New makes trigger service
func New(params Params) (*Service, error) {
	if params.Submitter == nil || params.Waiter == nil {
		return nil, fmt.Errorf("triggers need task submitter and job waiter: %w", errs.ErrConfiguration)
	}
	if params.Cron == nil {
		params.Cron = cron.New()
	}
	if params.Checker == nil {
		params.Checker = conditions.NewChecker(0)
	}
	return &Service{Params: params, dedup: NewDeDup()}, nil
}

// Run schedules triggers and blocks until ctx is done
func (s *Service) Run(ctx context.Context, triggers []Spec) error {
	for _, t := range triggers {
		sched, err := cron.ParseStandard(t.Spec)
		if err != nil {
			return fmt.Errorf("can't parse %s: %v: %w", t.Spec, err, errs.ErrValidation)
		}
		s.Cron.Schedule(sched, cron.FuncJob(func() { s.fire(ctx, t) }))
		log.Printf("[INFO] trigger %q scheduled, first: %s", t.Key(), sched.Next(time.Now()).Format(time.RFC3339))
	}
	s.Cron.Start()
	<-ctx.Done()
	log.Print("[DEBUG] triggers terminated")
	<-s.Cron.Stop().Done()
	return nil
}

// fire submits task of the trigger unless previous job of it is still active or host conditions not met
func (s *Service) fire(ctx context.Context, t Spec) {
	key := t.Key()
	if !s.dedup.Add(key) {
		log.Printf("[INFO] trigger %q skipped, previous job %s is still active", key, s.dedup.Job(key))
		return
	}
	if ok, reason := s.Checker.Check(ctx, t.Conditions); !ok {
		s.dedup.Remove(key)
		log.Printf("[INFO] trigger %q skipped, %s", key, reason)
		return
	}
	jobID, err := s.Submitter.Execute(ctx, t.Task)
	if err != nil {
		s.dedup.Remove(key)
		log.Printf("[WARN] trigger %q can't execute task %q, %v", key, t.Task, err)
		return
	}
	s.dedup.SetJob(key, jobID)
	log.Printf("[INFO] trigger %q submitted job %s", key, jobID)

	go func() {
		defer s.dedup.Remove(key)
		job, err := s.Waiter.Wait(ctx, jobID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("[WARN] trigger %q can't wait for job %s, %v", key, jobID, err)
			}
			return
		}
		log.Printf("[DEBUG] trigger %q job %s finished with %s", key, jobID, job.Status)
	}()
}
