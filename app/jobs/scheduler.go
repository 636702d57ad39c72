package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"

	"github.com/umputun/arbor/app/errs"
	"github.com/umputun/arbor/app/ids"
)

// Scheduler runs jobs with at most MaxConcurrency of them running at once.
// Pending jobs are admitted in submission order by a single dispatcher goroutine,
// every admitted job runs in its own goroutine.
type Scheduler struct {
	records *records
	slots   sync.Locker // nil for unbounded

	ctx    context.Context // base context of all jobs, canceled on shutdown
	cancel context.CancelFunc
	wg     sync.WaitGroup

	qLock  sync.Mutex
	queue  []string
	notify chan struct{}
	closed bool
	stop   chan struct{}

	onFinish func(Job)
}

// Params for New
type Params struct {
	MaxConcurrency int       // 0 or negative means unbounded
	OnFinish       func(Job) // optional, called with completed or failed job from its goroutine
}

// New makes scheduler and starts its dispatcher
func New(params Params) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	res := &Scheduler{
		records: newRecords(),
		ctx:     ctx,
		cancel:  cancel,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),

		onFinish: params.OnFinish,
	}
	if params.MaxConcurrency > 0 {
		res.slots = syncs.NewSemaphore(params.MaxConcurrency)
	}
	res.wg.Add(1)
	go res.dispatch()
	log.Printf("[DEBUG] job scheduler started, max concurrency %d", params.MaxConcurrency)
	return res
}

// AddJob registers work as pending job and returns its id immediately.
// Work runs exactly once, when a slot is free.
func (s *Scheduler) AddJob(work Work) (string, error) {
	if work == nil {
		return "", fmt.Errorf("nil work: %w", errs.ErrValidation)
	}

	s.qLock.Lock()
	defer s.qLock.Unlock()
	if s.closed {
		return "", fmt.Errorf("scheduler is shut down: %w", errs.ErrConfiguration)
	}
	rec := &record{
		job:  Job{ID: ids.New(), Status: StatusPending, SubmittedAt: time.Now().UTC()},
		work: work,
		done: make(chan struct{}),
	}
	s.records.add(rec)
	s.queue = append(s.queue, rec.job.ID)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	log.Printf("[DEBUG] job %s submitted", rec.job.ID)
	return rec.job.ID, nil
}

// Get returns job snapshot
func (s *Scheduler) Get(id string) (Job, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return Job{}, err
	}
	job, _, err := s.records.get(id)
	return job, err
}

// List returns jobs in submission order, optionally filtered by status
func (s *Scheduler) List(statuses ...Status) []Job {
	return s.records.list(statuses...)
}

// Counts returns number of jobs per status
func (s *Scheduler) Counts() map[Status]int {
	return s.records.counts()
}

// Cancel moves pending or running job to canceled and frees its slot. Cancellation is cooperative:
// ctx of the work is canceled, but work ignoring it keeps running in background and its result is dropped.
// Canceling job in terminal state does nothing.
func (s *Scheduler) Cancel(id string) error {
	id, err := ids.Lookup(id)
	if err != nil {
		return err
	}
	var release func()
	err = s.records.update(id, func(rec *record) {
		switch rec.job.Status {
		case StatusPending:
			s.terminate(rec, StatusCanceled)
		case StatusRunning:
			s.terminate(rec, StatusCanceled)
			rec.cancel()
			release = rec.release
		}
	})
	if err != nil {
		return err
	}
	if release != nil {
		release()
	}
	log.Printf("[DEBUG] job %s cancel requested", id)
	return nil
}

// Delete cancels active job and removes the record
func (s *Scheduler) Delete(id string) error {
	if err := s.Cancel(id); err != nil {
		return err
	}
	id, _ = ids.Parse(id) // validated by Cancel
	s.records.remove(id)
	log.Printf("[DEBUG] job %s deleted", id)
	return nil
}

// Wait blocks until job reaches terminal state or ctx is done, returns the last snapshot
func (s *Scheduler) Wait(ctx context.Context, id string) (Job, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return Job{}, err
	}
	_, done, err := s.records.get(id)
	if err != nil {
		return Job{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	job, _, err := s.records.get(id)
	return job, err
}

// Shutdown stops admission, cancels all active jobs and waits for goroutines to finish or ctx to expire
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.qLock.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.qLock.Unlock()

	for _, job := range s.records.list(StatusPending, StatusRunning) {
		if err := s.Cancel(job.ID); err != nil {
			log.Printf("[WARN] can't cancel job %s on shutdown, %v", job.ID, err)
		}
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[INFO] job scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

// dispatch admits pending jobs one by one in submission order
func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		id, ok := s.next()
		if !ok {
			return
		}
		if s.slots != nil {
			s.slots.Lock()
		}
		if !s.start(id) && s.slots != nil {
			s.slots.Unlock()
		}
	}
}

// next waits for queued job id, returns false on shutdown
func (s *Scheduler) next() (string, bool) {
	for {
		s.qLock.Lock()
		if s.closed {
			s.qLock.Unlock()
			return "", false
		}
		if len(s.queue) > 0 {
			id := s.queue[0]
			s.queue = s.queue[1:]
			s.qLock.Unlock()
			return id, true
		}
		s.qLock.Unlock()

		select {
		case <-s.notify:
		case <-s.stop:
			return "", false
		}
	}
}

// start moves pending job to running and runs it, returns false if job is not pending anymore
func (s *Scheduler) start(id string) bool {
	ctx, cancel := context.WithCancel(s.ctx)
	var once sync.Once
	release := func() {
		once.Do(func() {
			if s.slots != nil {
				s.slots.Unlock()
			}
		})
	}

	var work Work
	err := s.records.update(id, func(rec *record) {
		if rec.job.Status != StatusPending {
			return
		}
		now := time.Now().UTC()
		rec.job.Status = StatusRunning
		rec.job.StartedAt = &now
		rec.cancel = cancel
		rec.release = release
		work = rec.work
		rec.work = nil
	})
	if err != nil || work == nil {
		cancel()
		return false // deleted or canceled while pending
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		res, execErr := s.exec(ctx, work)
		job, ok := s.finish(id, res, execErr)
		release()
		if ok && s.onFinish != nil {
			s.onFinish(job)
		}
	}()
	log.Printf("[DEBUG] job %s started", id)
	return true
}

// exec runs work and converts panic to error
func (s *Scheduler) exec(ctx context.Context, work Work) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecError{Kind: "panic", Message: fmt.Sprintf("%v", r), Trace: string(debug.Stack())}
		}
	}()
	return work(ctx)
}

// finish records outcome of running job, late result of canceled job is dropped.
// Returns snapshot of the finished job, false if the result was dropped.
func (s *Scheduler) finish(id string, res any, execErr error) (Job, bool) {
	status := StatusCompleted
	if execErr != nil {
		status = StatusFailed
	}
	dropped := false
	var job Job
	err := s.records.update(id, func(rec *record) {
		if rec.job.Status != StatusRunning {
			dropped = true
			return
		}
		if execErr != nil {
			rec.job.Error = execError(execErr)
		} else {
			rec.job.Result = res
			if ref, ok := res.(ArtifactRef); ok {
				aid := string(ref)
				rec.job.ArtifactID = &aid
			}
		}
		s.terminate(rec, status)
		job = rec.job
	})
	if err != nil {
		dropped = true
	}

	if dropped {
		if ref, ok := res.(ArtifactRef); ok {
			log.Printf("[WARN] job %s finished after cancel, artifact %s is orphaned", id, ref)
			return Job{}, false
		}
		log.Printf("[DEBUG] job %s finished after cancel, result dropped", id)
		return Job{}, false
	}
	if execErr != nil {
		log.Printf("[WARN] job %s failed, %v", id, execErr)
		return job, true
	}
	log.Printf("[DEBUG] job %s completed", id)
	return job, true
}

// terminate sets terminal status, caller holds records lock
func (s *Scheduler) terminate(rec *record, status Status) {
	now := time.Now().UTC()
	rec.job.Status = status
	rec.job.FinishedAt = &now
	rec.work = nil
	close(rec.done)
}
