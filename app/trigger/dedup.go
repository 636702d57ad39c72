package trigger

import (
	"sync"
	"time"
)

// DeDup registers active triggers to prevent overlapping runs, thread safe
type DeDup struct {
	active map[string]activeRun
	lock   sync.Mutex
}

type activeRun struct {
	jobID   string
	started time.Time
}

// NewDeDup makes empty DeDup
func NewDeDup() *DeDup {
	return &DeDup{active: map[string]activeRun{}}
}

// Add registers key, returns false if already active
func (d *DeDup) Add(key string) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, found := d.active[key]; found {
		return false
	}
	d.active[key] = activeRun{started: time.Now()}
	return true
}

// SetJob sets job id of active key
func (d *DeDup) SetJob(key, jobID string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if r, ok := d.active[key]; ok {
		r.jobID = jobID
		d.active[key] = r
	}
}

// Job returns job id of active key, empty if not active or not submitted yet
func (d *DeDup) Job(key string) string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.active[key].jobID
}

// Remove key. Safe to call multiple times
func (d *DeDup) Remove(key string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.active, key)
}
