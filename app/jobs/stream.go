package jobs

import (
	"context"
	"time"

	"github.com/umputun/arbor/app/ids"
)

const defaultStreamInterval = time.Second

// Stream polls job record every interval and sends snapshots to returned channel.
// The first snapshot is sent right away, terminal state is sent as soon as reached.
// Channel is closed after terminal snapshot, when job is deleted or when ctx is done.
func (s *Scheduler) Stream(ctx context.Context, id string, interval time.Duration) (<-chan Job, error) {
	id, err := ids.Lookup(id)
	if err != nil {
		return nil, err
	}
	if _, _, err = s.records.get(id); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultStreamInterval
	}

	ch := make(chan Job)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			job, done, err := s.records.get(id)
			if err != nil {
				return // deleted
			}
			select {
			case ch <- job:
			case <-ctx.Done():
				return
			}
			if job.Status.Terminal() {
				return
			}
			select {
			case <-ticker.C:
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
