package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/refresh"
	"github.com/briangreenhill/acctcache/internal/remote"
	"github.com/briangreenhill/acctcache/internal/users"
	"github.com/briangreenhill/acctcache/plugins"
)

type directory map[string]users.User

func (d directory) FindByAccount(ctx context.Context, account string) (users.User, bool, error) {
	u, ok := d[account]
	return u, ok, nil
}

type fakeRemote struct {
	mu        sync.Mutex
	healthBy  []string
	health    []remote.HealthLine
	healthErr error
	apps      map[string]string
	appsErr   error
	block     bool
	appCalls  atomic.Int32
}

func (f *fakeRemote) FetchHealth(ctx context.Context, kind remote.AuthKind, value, account string) ([]remote.HealthLine, error) {
	f.mu.Lock()
	f.healthBy = append(f.healthBy, kind.String()+"="+value)
	lines, err := f.health, f.healthErr
	f.mu.Unlock()
	return lines, err
}

func (f *fakeRemote) FetchApplicationStatuses(ctx context.Context, key remote.APIKey, account string) (map[string]string, error) {
	f.appCalls.Add(1)
	f.mu.Lock()
	apps, err, block := f.apps, f.appsErr, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return apps, err
}

type quota struct{}

func (quota) Name() string { return "quota" }

func (quota) Collect(ctx context.Context, u users.User, account string) ([]plugins.DataPoint, error) {
	return []plugins.DataPoint{{Icon: "quota.png", MessageKey: "quota." + account, Value: 3}}, nil
}

func (quota) CollectSync(u users.User, account string) []plugins.DataPoint {
	return []plugins.DataPoint{{Icon: "user.png", MessageKey: "user." + u.Email}}
}

var ada = users.User{
	Email: "ada@example.com",
	Snapshot: users.Snapshot{
		UID: "uid-1", APIKey: "key", APISecret: "secret",
		Accounts: []remote.Account{{Name: "acme"}},
	},
}

func newMonitor(t *testing.T, dir Directory, r Remote, deadline time.Duration) *Monitor {
	t.Helper()
	pool := refresh.NewPool(0)
	t.Cleanup(pool.Close)
	reg := plugins.NewRegistry(zerolog.Nop())
	reg.Register(quota{})
	return NewMonitor(pool, dir, r, reg, Config{
		StaleAfter: 120 * time.Second,
		Retention:  600 * time.Second,
		Deadline:   deadline,
		Logger:     zerolog.Nop(),
	})
}

func keys(pts []plugins.DataPoint) []string {
	out := make([]string, 0, len(pts))
	for _, p := range pts {
		out = append(out, p.MessageKey)
	}
	return out
}

func awaitStatus(t *testing.T, m *Monitor, account string) []plugins.DataPoint {
	t.Helper()
	var pts []plugins.DataPoint
	require.Eventually(t, func() bool {
		var ok bool
		var err error
		pts, ok, err = m.Get(context.Background(), account)
		return err == nil && ok
	}, 2*time.Second, 5*time.Millisecond)
	return pts
}

func TestSummarizeApps(t *testing.T) {
	got := SummarizeApps("acme", map[string]string{
		"acme/web":    "active",
		"acme/worker": "ACTIVE",
		"acme/batch":  "hibernate",
		"other/web":   "active",
		"acmeweb":     "active",
	})
	assert.Equal(t, []plugins.DataPoint{
		{Icon: "status-active.png", MessageKey: "app.active", Value: 2},
		{Icon: "status-hibernate.png", MessageKey: "app.hibernate", Value: 1},
	}, got)
	assert.Empty(t, SummarizeApps("acme", nil))
}

func TestHealthLines(t *testing.T) {
	got := HealthLines([]remote.HealthLine{{Key: "m1", Remaining: 120}})
	assert.Equal(t, []plugins.DataPoint{{Icon: "status-build.png", MessageKey: "build.m1", Value: 120}}, got)
}

func TestMonitorRefreshesOnSweep(t *testing.T) {
	r := &fakeRemote{
		health: []remote.HealthLine{{Key: "m1", Remaining: 60}},
		apps:   map[string]string{"acme/web": "active"},
	}
	m := newMonitor(t, directory{"acme": ada}, r, time.Second)

	pts, ok, err := m.Get(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, pts)
	assert.Equal(t, 1, m.Pending())

	assert.Equal(t, 1, m.Sweep().Dispatched)
	pts = awaitStatus(t, m, "acme")
	assert.Equal(t, []string{"app.active", "build.m1", "quota.acme", "user.ada@example.com"}, keys(pts))
	assert.Equal(t, []string{"uid=uid-1"}, r.healthBy)
}

func TestMonitorUnknownAccountIsNotQueued(t *testing.T) {
	m := newMonitor(t, directory{}, &fakeRemote{}, time.Second)
	_, ok, err := m.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Pending())
}

func TestMonitorHealthWithAccountAPIKey(t *testing.T) {
	r := &fakeRemote{health: []remote.HealthLine{{Key: "m1", Remaining: 5}}}
	u := users.User{Email: "ops@example.com", AccountAPIKey: "acc-key"}
	m := newMonitor(t, directory{"acme": u}, r, time.Second)

	m.Get(context.Background(), "acme")
	m.Sweep()
	pts := awaitStatus(t, m, "acme")
	assert.Equal(t, []string{"build.m1", "quota.acme", "user.ops@example.com"}, keys(pts))
	assert.Equal(t, []string{"acc_api_key=acc-key"}, r.healthBy)
}

func TestMonitorDegradedValues(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"connectivity", apierror.Connectivity(errors.New("dial tcp: connection refused")), "app.offline"},
		{"application", apierror.New("AuthFailure", "bad signature", 200), "app.ioerror"},
		{"other", errors.New("unexpected EOF"), "app.ioerror"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRemote{appsErr: tt.err, healthErr: tt.err}
			m := newMonitor(t, directory{"acme": ada}, r, time.Second)

			m.Get(context.Background(), "acme")
			m.Sweep()
			pts := awaitStatus(t, m, "acme")
			assert.Equal(t, []string{tt.want, "quota.acme", "user.ada@example.com"}, keys(pts))
		})
	}
}

func TestMonitorTimeoutKeepsPartialResult(t *testing.T) {
	r := &fakeRemote{
		health: []remote.HealthLine{{Key: "m1", Remaining: 60}},
		block:  true,
	}
	m := newMonitor(t, directory{"acme": ada}, r, 30*time.Millisecond)

	m.Get(context.Background(), "acme")
	m.Sweep()
	pts := awaitStatus(t, m, "acme")
	assert.Equal(t, []string{"build.m1", "user.ada@example.com"}, keys(pts),
		"no degraded line on timeout and collectors past the deadline are skipped")
}

func TestMonitorServesStaleWhileRefreshing(t *testing.T) {
	r := &fakeRemote{apps: map[string]string{"acme/web": "active"}}
	m := newMonitor(t, directory{"acme": ada}, r, time.Second)

	m.Get(context.Background(), "acme")
	m.Sweep()
	awaitStatus(t, m, "acme")

	// Reads made while the status was missing may still be queued; the
	// next sweep drops them instead of fetching again.
	pending := m.Pending()
	pts, ok, err := m.Get(context.Background(), "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, keys(pts), "app.active")
	assert.Equal(t, pending, m.Pending(), "fresh status enqueues nothing")

	stats := m.Sweep()
	assert.Equal(t, 0, stats.Dispatched)
	assert.Equal(t, pending, stats.Superseded)
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, int32(1), r.appCalls.Load())
}
