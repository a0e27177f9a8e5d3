package refresh

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/cache"
	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/flight"
)

// Worker refreshes one key. It must return by deadline (ctx carries the same
// deadline) and should return whatever partial value it has on failure.
type Worker[K comparable, C any, V any] func(ctx context.Context, req Request[K, C], deadline time.Time) (V, error)

// Fallback turns a failed refresh into a cacheable degraded value.
type Fallback[K comparable, C any, V any] func(ctx context.Context, req Request[K, C], partial V, err error, deadline time.Time) V

// QueuedConfig tunes a Queued refresher.
type QueuedConfig[K comparable, C any, V any] struct {
	// StaleAfter is how long a written value stays fresh.
	StaleAfter time.Duration
	// Retention evicts values this long after their last write. Zero keeps
	// them forever.
	Retention time.Duration
	// Deadline bounds one worker run.
	Deadline time.Duration
	// Fallback builds the value cached after a failure. When nil the
	// partial value is cached as is.
	Fallback Fallback[K, C, V]

	Logger zerolog.Logger
	Now    func() time.Time
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Drained    int
	Dispatched int
	Superseded int
	Deferred   int
}

// Queued is the non-blocking refresher. Reads return immediately and only
// enqueue requests; Sweep dispatches them.
type Queued[K comparable, C any, V any] struct {
	cfg      QueuedConfig[K, C, V]
	work     Worker[K, C, V]
	store    *cache.Store[K, V]
	pending  *pendingQueue[K, C]
	running  *flight.Set[K]
	pool     *Pool
	sweeping atomic.Bool
	log      zerolog.Logger
}

func NewQueued[K comparable, C any, V any](pool *Pool, work Worker[K, C, V], cfg QueuedConfig[K, C, V]) *Queued[K, C, V] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queued[K, C, V]{
		cfg:     cfg,
		work:    work,
		store:   cache.New[K, V](cache.WithRetention(cfg.Retention)),
		pending: newPendingQueue[K, C](),
		running: flight.NewSet[K](),
		pool:    pool,
		log:     cfg.Logger.With().Str("component", "queued-refresh").Logger(),
	}
}

// Get returns the cached value for key and, when it is missing or stale,
// requests a refresh. A stale entry is requested at most once; a missing one
// is requested on every read and collapsed by the sweep. Get never blocks on
// a refresh.
func (q *Queued[K, C, V]) Get(key K, c C) (V, bool) {
	now := q.cfg.Now()
	e, ok := q.store.Get(key)
	if !ok {
		q.pending.push(Request[K, C]{Key: key, Context: c, EnqueuedAt: now})
		var zero V
		return zero, false
	}
	if e.Stale(now) && e.MarkRequested() {
		q.pending.push(Request[K, C]{Key: key, Context: c, EnqueuedAt: now})
	}
	return e.Value, true
}

// Peek returns the cached value without requesting anything.
func (q *Queued[K, C, V]) Peek(key K) (V, bool) {
	e, ok := q.store.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Pending returns the number of queued requests.
func (q *Queued[K, C, V]) Pending() int {
	return q.pending.len()
}

// Running reports whether a worker for key is in flight.
func (q *Queued[K, C, V]) Running(key K) bool {
	return q.running.Contains(key)
}

// Sweep drains the pending queue and dispatches at most one worker per key.
// Duplicate requests for a key are superseded by the first one, and so is a
// request made before the key's current fresh value was written. A key whose
// worker is still running is not dispatched; its request goes back on the
// queue for the next sweep. Overlapping calls return immediately.
func (q *Queued[K, C, V]) Sweep() SweepStats {
	var stats SweepStats
	if !q.sweeping.CompareAndSwap(false, true) {
		q.log.Debug().Msg("sweep already running")
		return stats
	}
	defer q.sweeping.Store(false)

	now := q.cfg.Now()
	batch := q.pending.drain()
	stats.Drained = len(batch)
	seen := make(map[K]struct{}, len(batch))
	var deferred []Request[K, C]

	for _, req := range batch {
		if _, dup := seen[req.Key]; dup {
			stats.Superseded++
			continue
		}
		seen[req.Key] = struct{}{}

		if e, ok := q.store.Get(req.Key); ok && e.Fresh(now) && !e.RefreshedAt.Before(req.EnqueuedAt) {
			stats.Superseded++
			continue
		}
		if !q.running.TryAdd(req.Key) {
			q.log.Debug().Interface("key", req.Key).Msg("refresh already in progress, deferring")
			deferred = append(deferred, req)
			stats.Deferred++
			continue
		}
		if err := q.pool.Go(func(ctx context.Context) {
			defer q.running.Release(req.Key)
			q.run(ctx, req)
		}); err != nil {
			q.running.Release(req.Key)
			deferred = append(deferred, req)
			stats.Deferred++
			continue
		}
		stats.Dispatched++
	}
	q.pending.push(deferred...)

	if stats.Drained > 0 {
		q.log.Debug().
			Int("drained", stats.Drained).
			Int("dispatched", stats.Dispatched).
			Int("superseded", stats.Superseded).
			Int("deferred", stats.Deferred).
			Msg("sweep")
	}
	return stats
}

func (q *Queued[K, C, V]) run(ctx context.Context, req Request[K, C]) {
	deadline := time.Now().Add(q.cfg.Deadline)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	q.log.Debug().Interface("key", req.Key).Msg("refresh started")
	v, err := q.call(ctx, req, deadline)
	if err != nil {
		kind := apierror.Classify(err)
		ev := q.log.Warn()
		if kind == apierror.KindTimeout {
			ev = q.log.Debug()
		}
		ev.Interface("key", req.Key).Str("kind", kind.String()).Err(err).Msg("refresh failed")
		if q.cfg.Fallback != nil {
			v = q.cfg.Fallback(ctx, req, v, err, deadline)
		}
	}
	now := q.cfg.Now()
	q.store.Put(req.Key, v, now, now.Add(q.cfg.StaleAfter))
	q.log.Debug().Interface("key", req.Key).Msg("refresh finished")
}

func (q *Queued[K, C, V]) call(ctx context.Context, req Request[K, C], deadline time.Time) (v V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panic: %v", r)
		}
	}()
	return q.work(ctx, req, deadline)
}
