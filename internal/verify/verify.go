// Package verify caches successful password checks against the remote
// service for a fixed TTL.
package verify

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/acctcache/internal/remote"
)

// DefaultTTL is how long a successful check is remembered.
const DefaultTTL = 360 * time.Second

var ErrMissingCredential = errors.New("email and password are required")

// Checker verifies a credential with the remote service.
type Checker interface {
	VerifyCredential(ctx context.Context, email, password string) (remote.Keys, error)
}

type entry struct {
	digest    [sha256.Size]byte
	expiresAt time.Time
}

type Option func(*Cache)

func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache remembers the last secret verified for each identity. A check is
// answered locally only when the presented secret is the one remembered and
// the entry has not expired; anything else goes to the remote service.
type Cache struct {
	checker Checker
	store   *ristretto.Cache
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func New(checker Checker, opts ...Option) (*Cache, error) {
	c := &Cache{
		checker: checker,
		ttl:     DefaultTTL,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e5,
		MaxCost:            1e4,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("check cache: %w", err)
	}
	c.store = store
	c.log = c.log.With().Str("component", "verify").Logger()
	return c, nil
}

// Check reports whether secret is the valid password of identity. A rejected
// password comes back as the remote's *apierror.Error.
func (c *Cache) Check(ctx context.Context, identity, secret string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" || secret == "" {
		return ErrMissingCredential
	}
	digest := sha256.Sum256([]byte(secret))
	if c.hit(identity, digest) {
		c.log.Debug().Str("identity", identity).Msg("check cache hit")
		return nil
	}

	// The remote check is shared by every caller presenting the same secret,
	// so it must outlive whichever caller started it.
	vctx := context.WithoutCancel(ctx)
	key := identity + "\x00" + hex.EncodeToString(digest[:])
	ch := c.group.DoChan(key, func() (any, error) {
		if _, err := c.checker.VerifyCredential(vctx, identity, secret); err != nil {
			return nil, err
		}
		c.store.SetWithTTL(identity, entry{digest: digest, expiresAt: c.now().Add(c.ttl)}, 1, c.ttl)
		c.store.Wait()
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		c.log.Debug().Str("identity", identity).Bool("shared", res.Shared).Err(res.Err).Msg("checked with remote")
		return res.Err
	}
}

func (c *Cache) hit(identity string, digest [sha256.Size]byte) bool {
	v, ok := c.store.Get(identity)
	if !ok {
		return false
	}
	e, ok := v.(entry)
	if !ok || !c.now().Before(e.expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare(e.digest[:], digest[:]) == 1
}

// Forget drops the remembered check of identity.
func (c *Cache) Forget(identity string) {
	c.store.Del(strings.TrimSpace(identity))
	c.store.Wait()
}

func (c *Cache) Close() {
	c.store.Close()
}
