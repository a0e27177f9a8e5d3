// Package users resolves the fields derived from a credential (UID, API key
// pair, profile and accounts) through a blocking refresh cache.
package users

import (
	"slices"
	"strings"

	"github.com/briangreenhill/acctcache/internal/remote"
)

// Snapshot is the immutable set of derived fields of one credential. A
// refresh builds a new Snapshot; fields it could not obtain keep their
// previous values.
type Snapshot struct {
	UID         string
	APIKey      string
	APISecret   string
	DisplayName string
	Username    string
	// Accounts is nil until the account list has been fetched once.
	Accounts []remote.Account
}

// Complete reports whether every required field is known.
func (s Snapshot) Complete() bool {
	return s.UID != "" && s.APIKey != "" && s.APISecret != "" && s.Username != "" && s.Accounts != nil
}

// AccountNames returns the names of the accounts in listing order.
func (s Snapshot) AccountNames() []string {
	out := make([]string, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		out = append(out, a.Name)
	}
	return out
}

// Matches reports whether account names one of the snapshot's accounts.
// Qualified names such as "region/acme" match the account "acme".
func (s Snapshot) Matches(account string) bool {
	return slices.ContainsFunc(s.Accounts, func(a remote.Account) bool {
		return a.Name != "" && strings.HasSuffix(account, a.Name)
	})
}

func (s Snapshot) clone() Snapshot {
	s.Accounts = slices.Clone(s.Accounts)
	return s
}

// User is a credential together with its derived fields, without the
// password.
type User struct {
	Email         string
	AccountAPIKey string
	Snapshot
}
