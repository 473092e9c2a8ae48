package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned by Acquire once the queue has been stopped.
var ErrShuttingDown = errors.New("gateway is shutting down")

// Queue admits turns under a global concurrency semaphore. Ordering within
// a session is handled by the history store's per-session lock; the queue
// only bounds how many turns run at once across all sessions.
type Queue struct {
	semaphore *semaphore.Weighted
	active    atomic.Int64

	mu      sync.RWMutex
	stopped bool
}

// NewQueue creates a Queue that allows up to maxConcurrent turns to execute
// simultaneously.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{semaphore: semaphore.NewWeighted(maxConcurrent)}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// must be called exactly once when the turn finishes.
func (q *Queue) Acquire(ctx context.Context) (release func(), err error) {
	if q.Stopped() {
		return nil, ErrShuttingDown
	}

	if err := q.semaphore.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	q.active.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			q.active.Add(-1)
			q.semaphore.Release(1)
		})
	}, nil
}

// Active returns the number of turns currently holding a slot.
func (q *Queue) Active() int64 {
	return q.active.Load()
}

// Stop rejects new turns. Turns already admitted run to completion.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (q *Queue) Stopped() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stopped
}

// WaitIdle blocks until no turns are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
