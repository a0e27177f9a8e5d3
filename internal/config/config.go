// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/briangreenhill/acctcache/internal/credentials"
	"github.com/briangreenhill/acctcache/internal/users"
)

// Config holds all application configuration
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`
	// MaxWorkers caps concurrent refreshes across all caches. Zero means
	// no cap.
	MaxWorkers int `env:"MAX_WORKERS" envDefault:"0"`
	// Credentials seeds the in-memory credential store when no database is
	// configured: "email:password[:account-api-key]" entries separated by
	// commas.
	Credentials []string `env:"CREDENTIALS" envSeparator:","`

	Remote  RemoteConfig  `envPrefix:"REMOTE_"`
	Refresh RefreshConfig `envPrefix:"REFRESH_"`
	Status  StatusConfig  `envPrefix:"STATUS_"`
	Check   CheckConfig   `envPrefix:"CHECK_"`
}

// RemoteConfig holds the remote API client configuration
type RemoteConfig struct {
	BaseURL     string        `env:"BASE_URL" envDefault:"https://grandcentral.example.com"`
	ProviderURL string        `env:"PROVIDER_URL" envDefault:"https://provider.example.com"`
	RunURL      string        `env:"RUN_URL" envDefault:"https://api.example.com/api"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"25s"`

	RetryMax     int           `env:"RETRY_MAX" envDefault:"2"`
	RetryWaitMin time.Duration `env:"RETRY_WAIT_MIN" envDefault:"500ms"`
	RetryWaitMax time.Duration `env:"RETRY_WAIT_MAX" envDefault:"5s"`

	// RateLimit is requests per second; zero disables limiting.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"10"`
	RateBurst int     `env:"RATE_BURST" envDefault:"5"`

	// Optional OAuth2 client credentials for an API gateway in front of the
	// remote service.
	TokenURL     string   `env:"TOKEN_URL"`
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// RefreshConfig tunes the credential cache
type RefreshConfig struct {
	TTL       time.Duration `env:"TTL" envDefault:"360s"`
	Wait      time.Duration `env:"WAIT" envDefault:"30s"`
	Deadline  time.Duration `env:"DEADLINE" envDefault:"30s"`
	UIDPolicy string        `env:"UID_POLICY" envDefault:"invalidate"`
}

// StatusConfig tunes the account status cache
type StatusConfig struct {
	StaleAfter    time.Duration `env:"STALE_AFTER" envDefault:"120s"`
	Retention     time.Duration `env:"RETENTION" envDefault:"600s"`
	Deadline      time.Duration `env:"DEADLINE" envDefault:"30s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
}

// CheckConfig tunes the password check cache
type CheckConfig struct {
	TTL time.Duration `env:"TTL" envDefault:"360s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// LoadFrom reads configuration from the given environment instead of the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Policy returns the UID invalidation policy of the credential cache.
func (r RefreshConfig) Policy() users.UIDPolicy {
	if strings.EqualFold(r.UIDPolicy, "keep") {
		return users.KeepUID
	}
	return users.InvalidateUIDOnError
}

// HasOAuth returns true if gateway client credentials are configured
func (c *Config) HasOAuth() bool {
	return c.Remote.ClientID != "" && c.Remote.ClientSecret != ""
}

// Seeds parses Credentials.
func (c *Config) Seeds() ([]credentials.Credential, error) {
	out := make([]credentials.Credential, 0, len(c.Credentials))
	for _, raw := range c.Credentials {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid CREDENTIALS entry %q: want email:password[:account-api-key]", raw)
		}
		cred := credentials.Credential{Email: strings.TrimSpace(parts[0]), Password: parts[1]}
		if len(parts) == 3 {
			cred.AccountAPIKey = parts[2]
		}
		out = append(out, cred)
	}
	return out, nil
}

// Validate checks durations, URLs and limits
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"REMOTE_TIMEOUT":        c.Remote.Timeout,
		"REFRESH_TTL":           c.Refresh.TTL,
		"REFRESH_WAIT":          c.Refresh.Wait,
		"REFRESH_DEADLINE":      c.Refresh.Deadline,
		"STATUS_STALE_AFTER":    c.Status.StaleAfter,
		"STATUS_RETENTION":      c.Status.Retention,
		"STATUS_DEADLINE":       c.Status.Deadline,
		"STATUS_SWEEP_INTERVAL": c.Status.SweepInterval,
		"CHECK_TTL":             c.Check.TTL,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	for name, raw := range map[string]string{
		"REMOTE_BASE_URL":     c.Remote.BaseURL,
		"REMOTE_PROVIDER_URL": c.Remote.ProviderURL,
		"REMOTE_RUN_URL":      c.Remote.RunURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s is not an absolute URL: %q", name, raw))
		}
	}
	if c.MaxWorkers < 0 {
		errs = append(errs, fmt.Errorf("MAX_WORKERS must not be negative, got %d", c.MaxWorkers))
	}
	if c.Remote.RetryMax < 0 {
		errs = append(errs, fmt.Errorf("REMOTE_RETRY_MAX must not be negative, got %d", c.Remote.RetryMax))
	}
	if c.Remote.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("REMOTE_RATE_LIMIT must not be negative, got %g", c.Remote.RateLimit))
	}
	switch strings.ToLower(c.Refresh.UIDPolicy) {
	case "invalidate", "keep":
	default:
		errs = append(errs, fmt.Errorf("REFRESH_UID_POLICY must be invalidate or keep, got %q", c.Refresh.UIDPolicy))
	}
	if c.HasOAuth() && c.Remote.TokenURL == "" {
		errs = append(errs, errors.New("REMOTE_TOKEN_URL is required with REMOTE_CLIENT_ID"))
	}
	if _, err := c.Seeds(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
