package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/umputun/arbor/app/errs"
)

// record is a job with its runtime state
type record struct {
	job     Job
	work    Work
	cancel  context.CancelFunc // set when running
	release func()             // frees scheduler slot, set when running
	done    chan struct{}      // closed on terminal transition
}

// records is in-memory registry of jobs in submission order
type records struct {
	mu    sync.RWMutex
	items map[string]*record
	order []string
}

func newRecords() *records {
	return &records{items: map[string]*record{}}
}

func (r *records) add(rec *record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[rec.job.ID] = rec
	r.order = append(r.order, rec.job.ID)
}

// get returns copy of job and its done channel
func (r *records) get(id string) (Job, <-chan struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.items[id]
	if !ok {
		return Job{}, nil, fmt.Errorf("job %s: %w", id, errs.ErrNotFound)
	}
	return rec.job, rec.done, nil
}

// list returns jobs in submission order, filtered by statuses if any set
func (r *records) list(statuses ...Status) []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Job, 0, len(r.order))
	for _, id := range r.order {
		rec := r.items[id]
		if len(statuses) > 0 && !hasStatus(statuses, rec.job.Status) {
			continue
		}
		res = append(res, rec.job)
	}
	return res
}

// update calls fn for record under lock
func (r *records) update(id string, fn func(rec *record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.items[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, errs.ErrNotFound)
	}
	fn(rec)
	return nil
}

func (r *records) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return
	}
	delete(r.items, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *records) counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		res[st] = 0
	}
	for _, rec := range r.items {
		res[rec.job.Status]++
	}
	return res
}

func hasStatus(statuses []Status, s Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
