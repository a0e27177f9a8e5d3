package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/internal/app"
	"github.com/briangreenhill/acctcache/internal/config"
	"github.com/briangreenhill/acctcache/internal/logging"
)

const version = "v0.1.0"

var errUsage = errors.New("usage")

func main() {
	if err := runCLI(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: acctcache <command> [args]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  user <email>        Resolve a user's profile and accounts")
	fmt.Fprintln(w, "  accounts            List every known account")
	fmt.Fprintln(w, "  status <account>    Refresh and print an account's status lines")
	fmt.Fprintln(w, "  check <email>       Verify a password read from ACCTCACHE_PASSWORD")
	fmt.Fprintln(w, "  help, version")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  CREDENTIALS         email:password[:account_api_key], comma separated")
	fmt.Fprintln(w, "  DATABASE_URL        Postgres credential store (optional)")
	fmt.Fprintln(w, "  REMOTE_BASE_URL     Account service base URL")
}

func runCLI(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command", errUsage)
	}
	switch args[0] {
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	case "version", "--version", "-v":
		fmt.Fprintln(out, "acctcache", version)
		return nil
	case "user", "status", "check":
		if len(args) < 2 || args[1] == "" {
			return fmt.Errorf("%w: %s needs an argument", errUsage, args[0])
		}
	case "accounts":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Refresh.Deadline+cfg.Status.Deadline)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return runCommand(ctx, a, args, out, logger)
}

func runCommand(ctx context.Context, a *app.App, args []string, out io.Writer, logger zerolog.Logger) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch args[0] {
	case "user":
		u, err := a.Users.Resolve(ctx, args[1])
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{
			"email":    u.Email,
			"uid":      u.UID,
			"username": u.Username,
			"name":     u.DisplayName,
			"accounts": u.AccountNames(),
			"complete": u.Complete(),
		})

	case "accounts":
		// Populate the user cache first; Accounts never waits.
		creds, err := a.Creds.List(ctx)
		if err != nil {
			return err
		}
		for _, c := range creds {
			if _, err := a.Users.Resolve(ctx, c.Email); err != nil {
				logger.Warn().Err(err).Str("email", c.Email).Msg("resolve")
			}
		}
		names, err := a.Users.Accounts(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(names)

	case "status":
		return printStatus(ctx, a, args[1], enc)

	case "check":
		if err := a.Checks.Check(ctx, args[1], os.Getenv("ACCTCACHE_PASSWORD")); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil
	}
	return nil
}

func printStatus(ctx context.Context, a *app.App, account string, enc *json.Encoder) error {
	creds, err := a.Creds.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range creds {
		_, _ = a.Users.Resolve(ctx, c.Email)
	}

	if _, _, err := a.Status.Get(ctx, account); err != nil {
		return err
	}
	a.Status.Sweep()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		points, ok, err := a.Status.Get(ctx, account)
		if err != nil {
			return err
		}
		if ok {
			return enc.Encode(points)
		}
		if a.Status.Pending() == 0 {
			// Nothing queued means no user belongs to the account.
			return fmt.Errorf("unknown account %q", account)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			a.Status.Sweep()
		}
	}
}
