// Package status serves per-account health and application status through
// the non-blocking refresh engine. Reads never wait on the remote service; a
// periodic sweep fetches whatever was requested.
package status

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/refresh"
	"github.com/briangreenhill/acctcache/internal/remote"
	"github.com/briangreenhill/acctcache/internal/users"
	"github.com/briangreenhill/acctcache/plugins"
)

// Remote is the part of the remote API the status worker uses.
type Remote interface {
	FetchHealth(ctx context.Context, kind remote.AuthKind, value, account string) ([]remote.HealthLine, error)
	FetchApplicationStatuses(ctx context.Context, key remote.APIKey, account string) (map[string]string, error)
}

// Directory finds the user whose credential covers an account.
type Directory interface {
	FindByAccount(ctx context.Context, account string) (users.User, bool, error)
}

type Config struct {
	StaleAfter time.Duration
	Retention  time.Duration
	Deadline   time.Duration
	Logger     zerolog.Logger
	Now        func() time.Time
}

type Monitor struct {
	dir        Directory
	remote     Remote
	collectors *plugins.Registry
	queued     *refresh.Queued[string, users.User, []plugins.DataPoint]
	log        zerolog.Logger
}

func NewMonitor(pool *refresh.Pool, dir Directory, r Remote, collectors *plugins.Registry, cfg Config) *Monitor {
	m := &Monitor{
		dir:        dir,
		remote:     r,
		collectors: collectors,
		log:        cfg.Logger.With().Str("component", "status").Logger(),
	}
	m.queued = refresh.NewQueued(pool, m.work, refresh.QueuedConfig[string, users.User, []plugins.DataPoint]{
		StaleAfter: cfg.StaleAfter,
		Retention:  cfg.Retention,
		Deadline:   cfg.Deadline,
		Fallback:   m.fallback,
		Logger:     m.log,
		Now:        cfg.Now,
	})
	return m
}

// Get returns the status of account without waiting. When the cached status
// is missing or stale and a stored credential covers account, a refresh is
// requested for the next sweep. ok is false when nothing is cached yet.
func (m *Monitor) Get(ctx context.Context, account string) (points []plugins.DataPoint, ok bool, err error) {
	u, found, err := m.dir.FindByAccount(ctx, account)
	if err != nil {
		return nil, false, fmt.Errorf("find user for %s: %w", account, err)
	}

	var cached []plugins.DataPoint
	if found {
		cached, ok = m.queued.Get(account, u)
	} else {
		cached, ok = m.queued.Peek(account)
	}
	if !ok {
		return nil, false, nil
	}
	return m.collectors.CollectSync(u, account, cached), true, nil
}

// Sweep dispatches the requested refreshes.
func (m *Monitor) Sweep() refresh.SweepStats {
	return m.queued.Sweep()
}

// Pending returns the number of queued refresh requests.
func (m *Monitor) Pending() int {
	return m.queued.Pending()
}

func (m *Monitor) work(ctx context.Context, req refresh.Request[string, users.User], deadline time.Time) ([]plugins.DataPoint, error) {
	account, u := req.Key, req.Context
	var apps, health []plugins.DataPoint

	g, gctx := errgroup.WithContext(ctx)
	if kind, value, ok := healthAuth(u); ok {
		g.Go(func() error {
			cctx, cancel := refresh.WithRemaining(gctx, deadline)
			defer cancel()
			lines, err := m.remote.FetchHealth(cctx, kind, value, account)
			if err != nil {
				return fmt.Errorf("health of %s: %w", account, err)
			}
			health = HealthLines(lines)
			return nil
		})
	}
	if u.APIKey != "" && u.APISecret != "" {
		g.Go(func() error {
			cctx, cancel := refresh.WithRemaining(gctx, deadline)
			defer cancel()
			statuses, err := m.remote.FetchApplicationStatuses(cctx, remote.APIKey{Key: u.APIKey, Secret: u.APISecret}, account)
			if err != nil {
				return fmt.Errorf("applications of %s: %w", account, err)
			}
			apps = SummarizeApps(account, statuses)
			return nil
		})
	}
	err := g.Wait()

	result := append(apps, health...)
	if err != nil {
		return result, err
	}
	extra, cerr := m.collectors.Collect(ctx, u, account, deadline)
	if cerr != nil {
		m.log.Debug().Str("account", account).Err(cerr).Msg("collectors failed")
	}
	return append(result, extra...), nil
}

// fallback caches what the worker got plus a degraded line naming the
// failure, then gives the collectors their turn.
func (m *Monitor) fallback(ctx context.Context, req refresh.Request[string, users.User], partial []plugins.DataPoint, err error, deadline time.Time) []plugins.DataPoint {
	out := slices.Clone(partial)
	switch apierror.Classify(err) {
	case apierror.KindTimeout:
	case apierror.KindConnectivity:
		out = append(out, Offline())
	default:
		out = append(out, IOError())
	}
	extra, cerr := m.collectors.Collect(ctx, req.Context, req.Key, deadline)
	if cerr != nil {
		m.log.Debug().Str("account", req.Key).Err(cerr).Msg("collectors failed")
	}
	return append(out, extra...)
}

// healthAuth picks the UID when known and the account API key otherwise.
func healthAuth(u users.User) (remote.AuthKind, string, bool) {
	switch {
	case u.UID != "":
		return remote.AuthUID, u.UID, true
	case u.AccountAPIKey != "":
		return remote.AuthAccountAPIKey, u.AccountAPIKey, true
	}
	return 0, "", false
}
