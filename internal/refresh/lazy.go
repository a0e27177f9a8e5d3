package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/cache"
	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/backoff"
	"github.com/briangreenhill/acctcache/internal/flight"
)

// Func refreshes the value of key. It starts from prev, the last cached value
// (zero when nothing is cached), and returns the best value it has even when
// it fails: fields obtained before the failure are kept and missing ones are
// retried on the next cycle.
type Func[K comparable, V any] func(ctx context.Context, key K, prev V) (V, error)

// LazyConfig tunes a Lazy refresher.
type LazyConfig[V any] struct {
	// TTL is how long a successful refresh stays fresh.
	TTL time.Duration
	// Wait bounds how long a blocking reader waits for a refresh.
	Wait time.Duration
	// Deadline bounds one refresh operation. Zero means no bound.
	Deadline time.Duration
	// Backoff shortens the freshness window after a failure.
	Backoff backoff.Policy
	// Complete reports whether a value has every required field. Readers of
	// a stale but complete value do not wait. When nil, every stale read
	// waits.
	Complete func(V) bool
	// MaxEntries caps the store. Zero means unbounded.
	MaxEntries int

	Logger zerolog.Logger
	Now    func() time.Time
}

// Lazy is the blocking refresher: reads trigger refreshes, and readers that
// need the value wait a bounded time for it.
type Lazy[K comparable, V any] struct {
	cfg     LazyConfig[V]
	fetch   Func[K, V]
	store   *cache.Store[K, V]
	flights *flight.Group[K, V]
	pool    *Pool
	streak  backoff.Streak
	log     zerolog.Logger

	// gens guards writes against Invalidate: a refresh stores its result
	// only if the key's generation has not moved since it started.
	genMu sync.Mutex
	gens  map[K]uint64
}

func NewLazy[K comparable, V any](pool *Pool, fetch Func[K, V], cfg LazyConfig[V]) *Lazy[K, V] {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backoff.Step == 0 && cfg.Backoff.Base == 0 {
		cfg.Backoff = backoff.Default()
	}
	return &Lazy[K, V]{
		cfg:     cfg,
		fetch:   fetch,
		store:   cache.New[K, V](cache.WithMaxEntries(cfg.MaxEntries)),
		flights: flight.NewGroup[K, V](),
		pool:    pool,
		log:     cfg.Logger.With().Str("component", "lazy-refresh").Logger(),
		gens:    make(map[K]uint64),
	}
}

// Get returns the cached value for key, refreshing it when stale. A fresh
// value returns at once. A stale value starts or joins the refresh for key;
// the caller then waits up to the configured bound, unless the stale value
// is already complete. ok is false only when nothing is cached for key.
func (l *Lazy[K, V]) Get(ctx context.Context, key K) (value V, ok bool) {
	e, found := l.store.Get(key)
	if found && e.Fresh(l.cfg.Now()) {
		return e.Value, true
	}

	t := l.Refresh(key)
	if found && l.cfg.Complete != nil && l.cfg.Complete(e.Value) {
		return e.Value, true
	}

	if t.Wait(ctx, l.cfg.Wait) {
		if v, err := t.Result(); err == nil {
			return v, true
		}
	} else {
		l.log.Debug().Interface("key", key).Str("ticket", t.ID.String()).Msg("wait for refresh timed out, serving cached value")
	}
	if e, found = l.store.Get(key); found {
		return e.Value, true
	}
	return value, false
}

// Peek returns the cached value without triggering a refresh.
func (l *Lazy[K, V]) Peek(key K) (V, bool) {
	e, ok := l.store.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// TryGet returns the cached value and starts a background refresh when it is
// missing or stale. It never waits.
func (l *Lazy[K, V]) TryGet(key K) (V, bool) {
	e, found := l.store.Get(key)
	if found && e.Fresh(l.cfg.Now()) {
		return e.Value, true
	}
	l.Refresh(key)
	if !found {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Refresh starts a refresh of key on the pool, or joins the one already
// running, and returns its ticket.
func (l *Lazy[K, V]) Refresh(key K) *flight.Ticket[V] {
	t, owner := l.flights.AcquireOrJoin(key)
	if !owner {
		return t
	}
	l.genMu.Lock()
	gen := l.gens[key]
	l.genMu.Unlock()
	prev, _ := l.Peek(key)
	if err := l.pool.Go(func(ctx context.Context) { l.run(ctx, key, gen, prev, t) }); err != nil {
		l.flights.Complete(key, t, prev, err)
	}
	return t
}

// Invalidate drops the cached value; the next read refreshes from scratch.
// A refresh already running for key still answers its waiters but its result
// is not stored.
func (l *Lazy[K, V]) Invalidate(key K) {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	l.gens[key]++
	l.flights.Forget(key)
	l.store.Delete(key)
}

// put stores v unless key was invalidated after generation gen.
func (l *Lazy[K, V]) put(key K, gen uint64, v V, refreshedAt, freshUntil time.Time) bool {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	if l.gens[key] != gen {
		return false
	}
	l.store.Put(key, v, refreshedAt, freshUntil)
	return true
}

// Failures returns the current consecutive-failure count.
func (l *Lazy[K, V]) Failures() int {
	return l.streak.Count()
}

func (l *Lazy[K, V]) run(ctx context.Context, key K, gen uint64, prev V, t *flight.Ticket[V]) {
	v, err := prev, error(nil)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panic: %v", r)
			l.log.Error().Interface("key", key).Err(err).Msg("refresh panicked")
		}
		l.flights.Complete(key, t, v, err)
	}()

	if l.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Deadline)
		defer cancel()
	}

	start := l.cfg.Now()
	v, err = l.fetch(ctx, key, prev)
	now := l.cfg.Now()
	if err == nil {
		l.streak.Reset()
		if !l.put(key, gen, v, now, now.Add(l.cfg.TTL)) {
			l.log.Debug().Interface("key", key).Str("ticket", t.ID.String()).Msg("key invalidated during refresh, result dropped")
			return
		}
		l.log.Debug().Interface("key", key).Str("ticket", t.ID.String()).Dur("took", now.Sub(start)).Msg("refreshed")
		return
	}

	failures := l.streak.Fail()
	delay := l.cfg.Backoff.Delay(failures)
	l.put(key, gen, v, now, now.Add(delay))

	kind := apierror.Classify(err)
	ev := l.log.Warn()
	if kind == apierror.KindTimeout {
		ev = l.log.Debug()
	}
	ev.Interface("key", key).
		Str("ticket", t.ID.String()).
		Str("kind", kind.String()).
		Int("failures", failures+1).
		Dur("retry_in", delay).
		Err(err).
		Msg("refresh failed")
}
