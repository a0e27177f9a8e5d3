package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Keys is the result of a successful credential exchange.
type Keys struct {
	UID       string `json:"uid"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Account is one account the user belongs to.
type Account struct {
	Name    string `json:"account"`
	Company string `json:"company_name,omitempty"`
}

// DisplayName is "company (account)", or just the account when there is no
// company.
func (a Account) DisplayName() string {
	if strings.TrimSpace(a.Company) == "" {
		return a.Name
	}
	return a.Company + " (" + a.Name + ")"
}

// Profile is the user's profile as reported by the account service.
type Profile struct {
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	FullName  string    `json:"full_name"`
	Username  string    `json:"username"`
	Accounts  []Account `json:"accounts"`
}

// DisplayName prefers the full name and falls back to first + last.
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// VerifyCredential exchanges an email and password for the user's UID and API
// key pair. A rejected password comes back as an *apierror.Error carrying the
// service's message.
func (c *Client) VerifyCredential(ctx context.Context, email, password string) (Keys, error) {
	var k Keys
	err := c.postJSON(ctx, c.baseURL, "/user/keys_using_auth", map[string]string{
		"email":    email,
		"password": password,
	}, &k)
	if err != nil {
		return Keys{}, err
	}
	if k.UID == "" || k.APIKey == "" || k.SecretKey == "" {
		return Keys{}, fmt.Errorf("keys_using_auth: %w", errEmptyField)
	}
	return k, nil
}

// FetchProfile returns the profile of uid. Accounts may be nil when the
// service omits them.
func (c *Client) FetchProfile(ctx context.Context, uid, email string) (Profile, error) {
	var p Profile
	err := c.postJSON(ctx, c.baseURL, "/user/profile", map[string]string{
		"uid":   uid,
		"email": email,
	}, &p)
	return p, err
}

// FetchAccountNames returns the account names uid belongs to.
func (c *Client) FetchAccountNames(ctx context.Context, uid string) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.postJSON(ctx, c.baseURL, "/account/names", map[string]string{"uid": uid}, &out); err != nil {
		return nil, err
	}
	if out.Accounts == nil {
		return []string{}, nil
	}
	return out.Accounts, nil
}

// FetchServiceStatus returns the username uid has on account.
func (c *Client) FetchServiceStatus(ctx context.Context, uid, account string) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	err := c.postJSON(ctx, c.baseURL, "/account/service_status", map[string]string{
		"uid":     uid,
		"account": account,
	}, &out)
	return out.Username, err
}

// AuthKind selects how a health query authenticates.
type AuthKind int

const (
	AuthUID AuthKind = iota
	AuthAccountAPIKey
)

func (k AuthKind) param() string {
	if k == AuthAccountAPIKey {
		return "acc_api_key"
	}
	return "uid"
}

func (k AuthKind) String() string {
	return k.param()
}

// HealthLine is one remaining-quota counter of an account.
type HealthLine struct {
	Key       string
	Remaining int64
}

// FetchHealth returns the remaining quota counters of account, sorted by key.
func (c *Client) FetchHealth(ctx context.Context, kind AuthKind, value, account string) ([]HealthLine, error) {
	var out struct {
		RemainingMinutes map[string]int64 `json:"remaining_minutes"`
	}
	err := c.postJSON(ctx, c.providerURL, "/api/account/health_status", map[string]string{
		kind.param(): value,
		"account":    account,
	}, &out)
	if err != nil {
		return nil, err
	}
	lines := make([]HealthLine, 0, len(out.RemainingMinutes))
	for k, v := range out.RemainingMinutes {
		lines = append(lines, HealthLine{Key: k, Remaining: v})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Key < lines[j].Key })
	return lines, nil
}
