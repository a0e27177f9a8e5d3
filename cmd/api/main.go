// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/internal/app"
	"github.com/briangreenhill/acctcache/internal/config"
	"github.com/briangreenhill/acctcache/internal/http/routes"
	"github.com/briangreenhill/acctcache/internal/logging"
	"github.com/briangreenhill/acctcache/internal/refresh"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New(os.Stderr, "info")
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
	if err := run(ctx, cfg, logger, ln); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// run serves the API on ln until ctx is done, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, ln net.Listener) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		ln.Close() //nolint:errcheck
		return err
	}
	defer a.Close()

	// Status sweeps
	sched := refresh.NewScheduler(logger)
	sched.EverySweep(cfg.Status.SweepInterval, "status-sweep", a.Status.Sweep)
	sched.Start()
	defer sched.Stop()

	// Sessions
	sess := scs.New()
	sess.Lifetime = cfg.SessionLifetime
	sess.Cookie.HttpOnly = true
	sess.Cookie.SameSite = http.SameSiteLaxMode
	sess.Cookie.Secure = false

	s := routes.New(routes.ServerOptions{
		Sess:   sess,
		Creds:  a.Creds,
		Check:  a.Checks,
		Users:  a.Users,
		Status: a.Status,
		Logger: logger,
	})

	srv := &http.Server{
		Handler:           sess.LoadAndSave(s.Router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("starting api")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
