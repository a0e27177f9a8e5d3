package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type options struct {
	retention  time.Duration
	maxEntries int
}

// Option configures a Store.
type Option func(*options)

// WithRetention evicts entries this long after their last write. Zero keeps
// entries forever. Retention is unrelated to freshness: a stale entry is
// served until it is evicted.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// WithMaxEntries caps the store size, evicting least recently used entries.
// Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// Store is a concurrent-safe map of keys to snapshots.
type Store[K comparable, V any] struct {
	mu      sync.Mutex // serializes Put's compare-and-swap
	entries *expirable.LRU[K, *Entry[V]]
}

// New returns an empty store.
func New[K comparable, V any](opts ...Option) *Store[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[K, V]{
		entries: expirable.NewLRU[K, *Entry[V]](o.maxEntries, nil, o.retention),
	}
}

// Get implements Reader.
func (s *Store[K, V]) Get(key K) (*Entry[V], bool) {
	return s.entries.Get(key)
}

// Put implements Writer. Writes are ordered by refreshedAt: a snapshot older
// than the one already stored is dropped and the current one returned.
func (s *Store[K, V]) Put(key K, value V, refreshedAt, freshUntil time.Time) (*Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries.Peek(key); ok && cur.RefreshedAt.After(refreshedAt) {
		return cur, false
	}
	e := &Entry[V]{Value: value, RefreshedAt: refreshedAt, FreshUntil: freshUntil}
	s.entries.Add(key, e)
	return e, true
}

// Delete drops key.
func (s *Store[K, V]) Delete(key K) {
	s.entries.Remove(key)
}

// Keys returns the keys currently stored, oldest first.
func (s *Store[K, V]) Keys() []K {
	return s.entries.Keys()
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (s *Store[K, V]) Len() int {
	return s.entries.Len()
}

// Purge drops everything.
func (s *Store[K, V]) Purge() {
	s.entries.Purge()
}
