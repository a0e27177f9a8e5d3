package users

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/credentials"
	"github.com/briangreenhill/acctcache/internal/remote"
)

// Remote is the part of the remote API the updater uses.
type Remote interface {
	VerifyCredential(ctx context.Context, email, password string) (remote.Keys, error)
	FetchProfile(ctx context.Context, uid, email string) (remote.Profile, error)
	FetchAccountNames(ctx context.Context, uid string) ([]string, error)
	FetchServiceStatus(ctx context.Context, uid, account string) (string, error)
}

// UIDPolicy decides what happens to a known UID when the account-names lookup
// made with it fails.
type UIDPolicy int

const (
	// InvalidateUIDOnError drops a UID the remote rejects so that the same
	// refresh re-authenticates with email and password. Connectivity
	// failures and timeouts never drop it.
	InvalidateUIDOnError UIDPolicy = iota
	// KeepUID keeps the UID and retries it on the next refresh.
	KeepUID
)

func (p UIDPolicy) String() string {
	if p == KeepUID {
		return "keep"
	}
	return "invalidate"
}

// Updater derives a credential's fields from the remote service one step at a
// time. Each step's result is merged as soon as it is known.
type Updater struct {
	remote Remote
	policy UIDPolicy
	log    zerolog.Logger
}

func NewUpdater(r Remote, policy UIDPolicy, log zerolog.Logger) *Updater {
	return &Updater{remote: r, policy: policy, log: log}
}

// Update returns prev with every field it managed to refresh. The error lists
// the steps that failed; the returned snapshot is meaningful either way.
//
// With a known UID the profile is fetched first, falling back to the account
// names. The API key pair is fetched when any key field or the UID is
// missing, and the account lookup is repeated under a new UID. Finally the
// username comes from the service status of the first account.
func (u *Updater) Update(ctx context.Context, c credentials.Credential, prev Snapshot) (Snapshot, error) {
	next := prev.clone()
	var (
		errs     *multierror.Error
		accounts []remote.Account
		fetched  bool
		tried    string
	)

	uid := next.UID
	if uid != "" {
		tried = uid
		accounts, fetched = u.profile(ctx, c, uid, &next, &errs)
		if !fetched {
			var err error
			accounts, fetched, err = u.accountNames(ctx, uid, &errs)
			if !fetched && u.policy == InvalidateUIDOnError && apierror.Classify(err) == apierror.KindApplication {
				u.log.Info().Str("email", c.Email).Err(err).Msg("uid rejected, re-authenticating")
				uid = ""
			}
		}
	}

	if next.APIKey == "" || next.APISecret == "" || uid == "" {
		keys, err := u.remote.VerifyCredential(ctx, c.Email, c.Password)
		if err != nil {
			// next still holds the previous UID.
			if fetched {
				next.Accounts = accounts
			}
			errs = multierror.Append(errs, fmt.Errorf("verify credential: %w", err))
			return next, errs.ErrorOrNil()
		}
		uid = keys.UID
		next.UID, next.APIKey, next.APISecret = keys.UID, keys.APIKey, keys.SecretKey
	}
	next.UID = uid

	if !fetched && uid != tried {
		accounts, fetched = u.profile(ctx, c, uid, &next, &errs)
		if !fetched {
			accounts, fetched, _ = u.accountNames(ctx, uid, &errs)
		}
	}

	if fetched {
		next.Accounts = accounts
		if next.Username == "" && len(accounts) > 0 {
			name, err := u.remote.FetchServiceStatus(ctx, uid, accounts[0].Name)
			switch {
			case err != nil:
				errs = multierror.Append(errs, fmt.Errorf("service status: %w", err))
			case name != "":
				next.Username = name
			}
		}
	}
	return next, errs.ErrorOrNil()
}

func (u *Updater) profile(ctx context.Context, c credentials.Credential, uid string, next *Snapshot, errs **multierror.Error) ([]remote.Account, bool) {
	p, err := u.remote.FetchProfile(ctx, uid, c.Email)
	if err != nil {
		u.log.Debug().Str("email", c.Email).Err(err).Msg("profile lookup failed")
		*errs = multierror.Append(*errs, fmt.Errorf("profile: %w", err))
		return nil, false
	}
	if name := p.DisplayName(); name != "" {
		next.DisplayName = name
	}
	if p.Username != "" {
		next.Username = p.Username
	}
	if p.Accounts == nil {
		return nil, false
	}
	return p.Accounts, true
}

func (u *Updater) accountNames(ctx context.Context, uid string, errs **multierror.Error) ([]remote.Account, bool, error) {
	names, err := u.remote.FetchAccountNames(ctx, uid)
	if err != nil {
		*errs = multierror.Append(*errs, fmt.Errorf("account names: %w", err))
		return nil, false, err
	}
	out := make([]remote.Account, 0, len(names))
	for _, n := range names {
		out = append(out, remote.Account{Name: n})
	}
	return out, true, nil
}
