// Package app wires the caches, the remote client and credential storage from
// a Config. Both the API server and the operator CLI build on it.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/briangreenhill/acctcache/internal/config"
	"github.com/briangreenhill/acctcache/internal/credentials"
	"github.com/briangreenhill/acctcache/internal/db"
	"github.com/briangreenhill/acctcache/internal/refresh"
	"github.com/briangreenhill/acctcache/internal/remote"
	"github.com/briangreenhill/acctcache/internal/status"
	"github.com/briangreenhill/acctcache/internal/users"
	"github.com/briangreenhill/acctcache/internal/verify"
	"github.com/briangreenhill/acctcache/plugins"
)

type App struct {
	Creds      credentials.Store
	Remote     *remote.Client
	Pool       *refresh.Pool
	Users      *users.Resolver
	Status     *status.Monitor
	Checks     *verify.Cache
	Collectors *plugins.Registry

	db *pgxpool.Pool
}

// New builds the application. Credentials live in Postgres when
// DatabaseURL is set and in memory, seeded from Credentials, otherwise.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{}
	if err := a.openStore(ctx, cfg, log); err != nil {
		return nil, err
	}

	opts := []remote.Option{
		remote.WithBaseURL(cfg.Remote.BaseURL),
		remote.WithProviderURL(cfg.Remote.ProviderURL),
		remote.WithRunURL(cfg.Remote.RunURL),
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithRetry(cfg.Remote.RetryMax, cfg.Remote.RetryWaitMin, cfg.Remote.RetryWaitMax),
		remote.WithRateLimit(cfg.Remote.RateLimit, cfg.Remote.RateBurst),
	}
	if cfg.HasOAuth() {
		cc := clientcredentials.Config{
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
			TokenURL:     cfg.Remote.TokenURL,
			Scopes:       cfg.Remote.Scopes,
		}
		opts = append(opts, remote.WithTokenSource(cc.TokenSource(context.Background())))
	}
	client, err := remote.New(opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("remote client: %w", err)
	}
	a.Remote = client

	a.Pool = refresh.NewPool(cfg.MaxWorkers)
	a.Users = users.NewResolver(a.Pool, a.Creds, client, users.Config{
		TTL:      cfg.Refresh.TTL,
		Wait:     cfg.Refresh.Wait,
		Deadline: cfg.Refresh.Deadline,
		Policy:   cfg.Refresh.Policy(),
		Logger:   log,
	})
	a.Collectors = plugins.NewRegistry(log)
	a.Status = status.NewMonitor(a.Pool, a.Users, client, a.Collectors, status.Config{
		StaleAfter: cfg.Status.StaleAfter,
		Retention:  cfg.Status.Retention,
		Deadline:   cfg.Status.Deadline,
		Logger:     log,
	})
	a.Checks, err = verify.New(client, verify.WithTTL(cfg.Check.TTL), verify.WithLogger(log))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.DatabaseURL == "" {
		seeds, err := cfg.Seeds()
		if err != nil {
			return err
		}
		a.Creds = credentials.NewMemoryStore(seeds...)
		log.Info().Int("credentials", len(seeds)).Msg("using in-memory credential store")
		return nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("db migrate: %w", err)
	}
	a.db = pool
	a.Creds = credentials.NewPostgresStore(db.New(pool))
	return nil
}

// Close stops in-flight refreshes and releases storage. It is safe to call
// on a partially built App.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.Checks != nil {
		a.Checks.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
