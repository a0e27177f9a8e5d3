// Package cache provides a TTL store of immutable value snapshots with a
// refresh timestamp and a derived freshness deadline.
package cache

import (
	"sync/atomic"
	"time"
)

// Entry is an immutable snapshot of a cached value. A refresh produces a new
// Entry; readers holding the old one never see it change. The only mutable
// part is the requested mark used by non-blocking readers.
type Entry[V any] struct {
	Value       V
	RefreshedAt time.Time
	FreshUntil  time.Time

	requested atomic.Bool
}

// Fresh reports whether the entry is still inside its freshness window.
func (e *Entry[V]) Fresh(now time.Time) bool {
	return now.Before(e.FreshUntil)
}

// Stale is the inverse of Fresh. Stale entries are still served.
func (e *Entry[V]) Stale(now time.Time) bool {
	return !e.Fresh(now)
}

// MarkRequested flags the entry as having a refresh queued and reports whether
// this call set the flag.
func (e *Entry[V]) MarkRequested() bool {
	return e.requested.CompareAndSwap(false, true)
}

// Requested reports whether a refresh was queued for this snapshot.
func (e *Entry[V]) Requested() bool {
	return e.requested.Load()
}

// Reader looks up snapshots.
type Reader[K comparable, V any] interface {
	// Get returns the current snapshot for key, fresh or stale.
	Get(key K) (*Entry[V], bool)
}

// Writer swaps in new snapshots.
type Writer[K comparable, V any] interface {
	// Put stores a new snapshot unless a newer one is already present.
	Put(key K, value V, refreshedAt, freshUntil time.Time) (*Entry[V], bool)
}

// ReadWriter combines both operations.
type ReadWriter[K comparable, V any] interface {
	Reader[K, V]
	Writer[K, V]
}
