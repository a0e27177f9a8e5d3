// Package remote is the client for the remote account service: credential
// exchange, profile and account lookups, account health and the signed
// application run API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/briangreenhill/acctcache/internal/apierror"
	"github.com/briangreenhill/acctcache/internal/auth"
)

const (
	DefaultBaseURL     = "https://grandcentral.example.com"
	DefaultProviderURL = "https://provider.example.com"
	DefaultRunURL      = "https://api.example.com/api"
	DefaultAPIVersion  = "1.0"

	// DefaultTimeout bounds a single request, retries included.
	DefaultTimeout = 25 * time.Second
)

type config struct {
	httpClient   *http.Client
	baseURL      string
	providerURL  string
	runURL       string
	apiVersion   string
	timeout      time.Duration
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	limit        rate.Limit
	burst        int
	tokenSource  oauth2.TokenSource
	signer       auth.Signer
	now          func() time.Time
}

// Option configures a Client.
type Option func(*config)

// WithHTTPClient replaces the base HTTP client. Retry and bearer-token
// transports are layered on top of its transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *config) { c.httpClient = h }
}

// WithBaseURL sets the account service endpoint (credentials, profile,
// account names, service status).
func WithBaseURL(raw string) Option {
	return func(c *config) { c.baseURL = raw }
}

// WithProviderURL sets the health status endpoint.
func WithProviderURL(raw string) Option {
	return func(c *config) { c.providerURL = raw }
}

// WithRunURL sets the signed run API endpoint.
func WithRunURL(raw string) Option {
	return func(c *config) { c.runURL = raw }
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithRetry retries connection failures, 429 and 5xx responses up to max
// times, waiting between waitMin and waitMax.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *config) {
		c.retryMax, c.retryWaitMin, c.retryWaitMax = max, waitMin, waitMax
	}
}

// WithRateLimit caps outbound requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *config) {
		if perSecond <= 0 {
			c.limit, c.burst = rate.Inf, 0
			return
		}
		c.limit, c.burst = rate.Limit(perSecond), burst
	}
}

// WithTokenSource sends a bearer token from ts on every request.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *config) { c.tokenSource = ts }
}

func WithSigner(s auth.Signer) Option {
	return func(c *config) { c.signer = s }
}

func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// Client talks to the remote account service. It is safe for concurrent use.
type Client struct {
	http        *http.Client
	baseURL     *url.URL
	providerURL *url.URL
	runURL      *url.URL
	apiVersion  string
	limiter     *rate.Limiter
	signer      auth.Signer
	now         func() time.Time
}

func New(opts ...Option) (*Client, error) {
	cfg := config{
		httpClient:   http.DefaultClient,
		baseURL:      DefaultBaseURL,
		providerURL:  DefaultProviderURL,
		runURL:       DefaultRunURL,
		apiVersion:   DefaultAPIVersion,
		timeout:      DefaultTimeout,
		retryWaitMin: 500 * time.Millisecond,
		retryWaitMax: 2 * time.Second,
		limit:        rate.Inf,
		signer:       auth.SignerV1{},
		now:          time.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}

	c := &Client{
		apiVersion: cfg.apiVersion,
		limiter:    rate.NewLimiter(cfg.limit, cfg.burst),
		signer:     cfg.signer,
		now:        cfg.now,
	}
	var err error
	if c.baseURL, err = parseURL("base", cfg.baseURL); err != nil {
		return nil, err
	}
	if c.providerURL, err = parseURL("provider", cfg.providerURL); err != nil {
		return nil, err
	}
	if c.runURL, err = parseURL("run", cfg.runURL); err != nil {
		return nil, err
	}

	hc := *cfg.httpClient
	hc.Timeout = cfg.timeout
	if cfg.retryMax > 0 {
		rc := &retryablehttp.Client{
			HTTPClient:   &http.Client{Transport: hc.Transport},
			RetryWaitMin: cfg.retryWaitMin,
			RetryWaitMax: cfg.retryWaitMax,
			RetryMax:     cfg.retryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		}
		hc.Transport = rc.StandardClient().Transport
	}
	if cfg.tokenSource != nil {
		hc.Transport = &oauth2.Transport{Source: cfg.tokenSource, Base: hc.Transport}
	}
	c.http = &hc
	return c, nil
}

func parseURL(name, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s url: %w", name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", name, raw)
	}
	return u, nil
}

func endpoint(base *url.URL, p string) string {
	u := *base
	u.Path = path.Join(u.Path, p)
	return u.String()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if apierror.Classify(err) == apierror.KindConnectivity {
			return nil, apierror.Connectivity(err)
		}
		return nil, err
	}
	return resp, nil
}

// postJSON posts in as JSON to base+p and decodes a 200 response into out.
// Any other status becomes an *apierror.Error.
func (c *Client) postJSON(ctx context.Context, base *url.URL, p string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(base, p), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", p, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("POST %s: read body: %w", p, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: %w", p, apierror.FromResponse(resp.StatusCode, b))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("POST %s: decode: %w", p, err)
	}
	return nil
}

var errEmptyField = errors.New("missing field in response")
