package plugins

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/internal/users"
)

// ErrDeadline is reported for collectors skipped because the deadline passed.
var ErrDeadline = errors.New("collector deadline exceeded")

// Registry holds collectors in registration order.
type Registry struct {
	mu         sync.RWMutex
	collectors []Collector
	log        zerolog.Logger
	now        func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log: log.With().Str("component", "collectors").Logger(),
		now: time.Now,
	}
}

// Register adds a collector, replacing any collector with the same name in
// place.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.collectors {
		if cur.Name() == c.Name() {
			r.collectors[i] = c
			return
		}
	}
	r.collectors = append(r.collectors, c)
}

// GetCollector retrieves a collector by name
func (r *Registry) GetCollector(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.collectors {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// List returns the registered collector names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for _, c := range r.collectors {
		names = append(names, c.Name())
	}
	return names
}

func (r *Registry) snapshot() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Collector(nil), r.collectors...)
}

// Collect runs every collector in order and returns the points they produced.
// A failing or panicking collector does not stop the others; once deadline
// has passed the remaining collectors are skipped. The error aggregates every
// failure.
func (r *Registry) Collect(ctx context.Context, u users.User, account string, deadline time.Time) ([]DataPoint, error) {
	var (
		out  []DataPoint
		errs *multierror.Error
	)
	cs := r.snapshot()
	for i, c := range cs {
		if r.now().After(deadline) {
			errs = multierror.Append(errs, fmt.Errorf("%d collectors skipped: %w", len(cs)-i, ErrDeadline))
			break
		}
		pts, err := r.collect(ctx, c, u, account)
		out = append(out, pts...)
		if err != nil {
			r.log.Debug().Str("collector", c.Name()).Str("account", account).Err(err).Msg("collector failed")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return out, errs.ErrorOrNil()
}

func (r *Registry) collect(ctx context.Context, c Collector, u users.User, account string) (pts []DataPoint, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return c.Collect(ctx, u, account)
}

// CollectSync appends the synchronous points of every collector to a copy of
// base.
func (r *Registry) CollectSync(u users.User, account string, base []DataPoint) []DataPoint {
	out := append([]DataPoint(nil), base...)
	for _, c := range r.snapshot() {
		out = append(out, r.collectSync(c, u, account)...)
	}
	return out
}

func (r *Registry) collectSync(c Collector, u users.User, account string) (pts []DataPoint) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Debug().Str("collector", c.Name()).Interface("panic", p).Msg("sync collector panicked")
			pts = nil
		}
	}()
	return c.CollectSync(u, account)
}
