// Package flight coordinates at most one in-flight refresh per key.
//
// The first caller for a key becomes the owner of a Ticket and is responsible
// for completing it. Later callers join the same ticket and wait for it. A
// waiter giving up never cancels the ticket.
package flight

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ticket is one in-flight refresh. It completes exactly once.
type Ticket[V any] struct {
	ID      uuid.UUID
	Created time.Time

	done chan struct{}
	once sync.Once
	val  V
	err  error
}

func newTicket[V any]() *Ticket[V] {
	return &Ticket[V]{
		ID:      uuid.New(),
		Created: time.Now(),
		done:    make(chan struct{}),
	}
}

// Done is closed when the ticket completes.
func (t *Ticket[V]) Done() <-chan struct{} {
	return t.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (t *Ticket[V]) Result() (V, error) {
	return t.val, t.err
}

// Wait blocks until the ticket completes, ctx is done or timeout elapses, and
// reports whether the ticket completed. A timeout <= 0 waits without a timer.
func (t *Ticket[V]) Wait(ctx context.Context, timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-t.done:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

func (t *Ticket[V]) complete(v V, err error) bool {
	first := false
	t.once.Do(func() {
		t.val, t.err = v, err
		close(t.done)
		first = true
	})
	return first
}

// Group is a registry of live tickets keyed by K.
type Group[K comparable, V any] struct {
	mu      sync.Mutex
	tickets map[K]*Ticket[V]
}

// NewGroup returns an empty registry.
func NewGroup[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{tickets: make(map[K]*Ticket[V])}
}

// AcquireOrJoin returns the live ticket for key, creating it when none exists.
// owner is true only for the caller that created the ticket.
func (g *Group[K, V]) AcquireOrJoin(key K) (ticket *Ticket[V], owner bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.tickets[key]; ok {
		return t, false
	}
	t := newTicket[V]()
	g.tickets[key] = t
	return t, true
}

// Complete publishes the result of t, releases every waiter and removes t
// from the registry. Completing a ticket twice is a no-op.
func (g *Group[K, V]) Complete(key K, t *Ticket[V], v V, err error) {
	g.mu.Lock()
	if cur, ok := g.tickets[key]; ok && cur == t {
		delete(g.tickets, key)
	}
	g.mu.Unlock()
	t.complete(v, err)
}

// Forget detaches the live ticket of key without completing it. Its owner
// still completes it for the callers already waiting, while the next
// AcquireOrJoin starts a new ticket.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.tickets, key)
	g.mu.Unlock()
}

// Lookup returns the live ticket for key, if any.
func (g *Group[K, V]) Lookup(key K) (*Ticket[V], bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[key]
	return t, ok
}

// Len returns the number of live tickets.
func (g *Group[K, V]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tickets)
}
