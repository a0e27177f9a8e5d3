package users

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/internal/backoff"
	"github.com/briangreenhill/acctcache/internal/credentials"
	"github.com/briangreenhill/acctcache/internal/refresh"
)

// Config tunes a Resolver.
type Config struct {
	TTL      time.Duration
	Wait     time.Duration
	Deadline time.Duration
	Policy   UIDPolicy
	Backoff  backoff.Policy
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Resolver serves the derived fields of stored credentials, keyed by email.
type Resolver struct {
	store credentials.Store
	lazy  *refresh.Lazy[string, Snapshot]
	log   zerolog.Logger
}

func NewResolver(pool *refresh.Pool, store credentials.Store, r Remote, cfg Config) *Resolver {
	log := cfg.Logger.With().Str("component", "users").Logger()
	up := NewUpdater(r, cfg.Policy, log)
	fetch := func(ctx context.Context, email string, prev Snapshot) (Snapshot, error) {
		c, err := store.Get(ctx, email)
		if err != nil {
			return prev, fmt.Errorf("load credential %s: %w", email, err)
		}
		return up.Update(ctx, c, prev)
	}
	return &Resolver{
		store: store,
		lazy: refresh.NewLazy[string, Snapshot](pool, fetch, refresh.LazyConfig[Snapshot]{
			TTL:      cfg.TTL,
			Wait:     cfg.Wait,
			Deadline: cfg.Deadline,
			Backoff:  cfg.Backoff,
			Complete: Snapshot.Complete,
			Logger:   log,
			Now:      cfg.Now,
		}),
		log: log,
	}
}

// Resolve returns the derived fields of the credential registered under
// email. It blocks only while required fields are missing, and never longer
// than the configured wait.
func (r *Resolver) Resolve(ctx context.Context, email string) (User, error) {
	c, err := r.store.Get(ctx, email)
	if err != nil {
		return User{}, err
	}
	snap, _ := r.lazy.Get(ctx, c.Email)
	return User{Email: c.Email, AccountAPIKey: c.AccountAPIKey, Snapshot: snap}, nil
}

// Cached returns what is known about email without waiting, starting a
// refresh when the fields are stale.
func (r *Resolver) Cached(c credentials.Credential) User {
	snap, _ := r.lazy.TryGet(c.Email)
	return User{Email: c.Email, AccountAPIKey: c.AccountAPIKey, Snapshot: snap}
}

// Forget drops the derived fields of email, for example after its password
// changed.
func (r *Resolver) Forget(email string) {
	r.lazy.Invalidate(credentials.Normalize(email))
}

// Accounts returns the sorted, distinct account names of every stored
// credential. It never waits on the remote service.
func (r *Resolver) Accounts(ctx context.Context) ([]string, error) {
	creds, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, c := range creds {
		names = append(names, r.Cached(c).AccountNames()...)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// FindByAccount returns the first stored credential with access to account.
// It never waits on the remote service.
func (r *Resolver) FindByAccount(ctx context.Context, account string) (User, bool, error) {
	creds, err := r.store.List(ctx)
	if err != nil {
		return User{}, false, err
	}
	for _, c := range creds {
		if u := r.Cached(c); u.Matches(account) {
			return u, true, nil
		}
	}
	return User{}, false, nil
}

// Failures returns the current consecutive refresh failure count.
func (r *Resolver) Failures() int {
	return r.lazy.Failures()
}
