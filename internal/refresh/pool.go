// Package refresh runs cache refreshes in front of a slow remote service.
//
// Lazy serves blocking readers: a stale read starts (or joins) one refresh per
// key and waits a bounded time for it. Queued serves readers that must never
// block: a stale read enqueues a request and a periodic sweep dispatches at
// most one worker per key.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("refresh pool closed")

// Pool runs refresh work on background goroutines shared by every engine in
// the process. Work never runs on the caller's goroutine.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool returns a pool running at most maxWorkers jobs at once. Zero or
// less means unbounded.
func NewPool(maxWorkers int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel}
	if maxWorkers > 0 {
		p.sem = semaphore.NewWeighted(int64(maxWorkers))
	}
	return p
}

// Go schedules fn. The context passed to fn is canceled by Close. Go never
// blocks waiting for a free worker.
func (p *Pool) Go(fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			// On Close fn still runs, with a canceled context, so that
			// owners always complete their tickets.
			if err := p.sem.Acquire(p.ctx, 1); err == nil {
				defer p.sem.Release(1)
			}
		}
		fn(p.ctx)
	}()
	return nil
}

// Close cancels running work and waits for it to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Remaining is the timeout for a sub-call made at now by a worker that must
// finish by deadline. It is never less than one millisecond.
func Remaining(deadline, now time.Time) time.Duration {
	d := deadline.Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}

// WithRemaining derives a context for one sub-call made before deadline.
func WithRemaining(ctx context.Context, deadline time.Time) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, Remaining(deadline, time.Now()))
}
