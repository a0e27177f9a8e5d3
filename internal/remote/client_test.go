package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/auth"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithProviderURL(srv.URL + "/provider"),
		WithRunURL(srv.URL + "/api"),
	}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var m map[string]string
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func TestVerifyCredential(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/keys_using_auth", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		in := decodeBody(t, r)
		if in["password"] != "right" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"Invalid email or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"uid":"u1","api_key":"K","secret_key":"S"}`))
	})
	c := newTestClient(t, mux)

	keys, err := c.VerifyCredential(context.Background(), "a@b.c", "right")
	require.NoError(t, err)
	require.Equal(t, Keys{UID: "u1", APIKey: "K", SecretKey: "S"}, keys)

	_, err = c.VerifyCredential(context.Background(), "a@b.c", "wrong")
	var ae *apierror.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "Invalid email or password", ae.Message)
	require.Equal(t, apierror.KindApplication, apierror.Classify(err))
}

func TestVerifyCredentialMissingFields(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"uid":"u1"}`))
	}))
	_, err := c.VerifyCredential(context.Background(), "a@b.c", "p")
	require.ErrorIs(t, err, errEmptyField)
}

func TestProfileAndAccounts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user/profile", func(w http.ResponseWriter, r *http.Request) {
		in := decodeBody(t, r)
		require.Equal(t, "u1", in["uid"])
		require.Equal(t, "a@b.c", in["email"])
		_, _ = w.Write([]byte(`{"first_name":"Ada","last_name":"L","username":"ada",
			"accounts":[{"company_name":"Acme","account":"acme"},{"company_name":"","account":"solo"}]}`))
	})
	mux.HandleFunc("/account/names", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accounts":["acme","solo"]}`))
	})
	mux.HandleFunc("/account/service_status", func(w http.ResponseWriter, r *http.Request) {
		in := decodeBody(t, r)
		require.Equal(t, "acme", in["account"])
		_, _ = w.Write([]byte(`{"username":"ada-acme"}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	p, err := c.FetchProfile(ctx, "u1", "a@b.c")
	require.NoError(t, err)
	require.Equal(t, "Ada L", p.DisplayName())
	require.Equal(t, "ada", p.Username)
	require.Len(t, p.Accounts, 2)
	require.Equal(t, "Acme (acme)", p.Accounts[0].DisplayName())
	require.Equal(t, "solo", p.Accounts[1].DisplayName())

	names, err := c.FetchAccountNames(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"acme", "solo"}, names)

	user, err := c.FetchServiceStatus(ctx, "u1", "acme")
	require.NoError(t, err)
	require.Equal(t, "ada-acme", user)
}

func TestFetchHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/provider/api/account/health_status", r.URL.Path)
		in := decodeBody(t, r)
		require.Equal(t, "AK", in["acc_api_key"])
		require.Equal(t, "acme", in["account"])
		_, _ = w.Write([]byte(`{"remaining_minutes":{"zeta":3,"alpha":-5}}`))
	}))
	lines, err := c.FetchHealth(context.Background(), AuthAccountAPIKey, "AK", "acme")
	require.NoError(t, err)
	require.Equal(t, []HealthLine{{Key: "alpha", Remaining: -5}, {Key: "zeta", Remaining: 3}}, lines)
}

func TestFetchHealthServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	_, err := c.FetchHealth(context.Background(), AuthUID, "u1", "acme")
	var ae *apierror.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusServiceUnavailable, ae.Status)
}

func TestFetchApplicationStatuses(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "/api", r.URL.Path)
		require.Equal(t, "application.list", q.Get("action"))
		require.Equal(t, "K", q.Get("api_key"))
		require.Equal(t, "1700000000", q.Get("timestamp"))
		require.Equal(t, "1", q.Get("sig_version"))
		require.NoError(t, auth.Verify(auth.SignerV1{}, q, "S"))
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0"?>
<ApplicationListResponse>
  <applications>
    <ApplicationInfo><id>acme/web</id><status>active</status></ApplicationInfo>
    <ApplicationInfo><id>acme/api</id><status>hibernate</status></ApplicationInfo>
  </applications>
</ApplicationListResponse>`))
	}), withClock(func() time.Time { return now }))

	apps, err := c.FetchApplicationStatuses(context.Background(), APIKey{Key: "K", Secret: "S"}, "acme")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"acme/web": "active", "acme/api": "hibernate"}, apps)
}

func TestFetchApplicationStatusesError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<error><errorCode>AuthFailure</errorCode><message>bad signature</message></error>`))
	}))
	_, err := c.FetchApplicationStatuses(context.Background(), APIKey{Key: "K", Secret: "S"}, "acme")
	var ae *apierror.Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, "AuthFailure", ae.Code)
	require.Equal(t, "bad signature", ae.Message)

	_, err = c.FetchApplicationStatuses(context.Background(), APIKey{}, "acme")
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestConnectivityFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(WithBaseURL(base))
	require.NoError(t, err)
	_, err = c.FetchAccountNames(context.Background(), "u1")
	require.Error(t, err)
	require.True(t, apierror.IsConnectivity(err), "got %v", err)
}

func TestTimeout(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.FetchAccountNames(ctx, "u1")
	require.True(t, apierror.IsTimeout(err), "got %v", err)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"accounts":["acme"]}`))
	}), WithRetry(3, time.Millisecond, 5*time.Millisecond))

	names, err := c.FetchAccountNames(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"acme"}, names)
	require.Equal(t, int32(3), calls.Load())
}

func TestBearerToken(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"username":"x"}`))
	}), WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})))

	_, err := c.FetchServiceStatus(context.Background(), "u1", "acme")
	require.NoError(t, err)
}

func TestRateLimitHonorsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accounts":[]}`))
	}), WithRateLimit(0.001, 1))

	_, err := c.FetchAccountNames(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.FetchAccountNames(ctx, "u1")
	require.Error(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(WithBaseURL("not a url"))
	require.Error(t, err)
}
