// Package scheduler runs recurring background jobs.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// Ticker runs one job at a fixed interval, starting immediately.
type Ticker struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTicker builds a scheduler that fires every interval.
func NewTicker(interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Ticker{interval: interval}
}

// Start runs job until ctx is done or Stop is called. Calling Start on a
// running Ticker does nothing.
func (t *Ticker) Start(ctx context.Context, job func(context.Context, time.Time)) {
	if job == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	t.stop, t.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		job(ctx, time.Now())
		for {
			select {
			case now := <-ticker.C:
				job(ctx, now)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the job loop and waits for an in-flight run to finish.
func (t *Ticker) Stop(ctx context.Context) error {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
