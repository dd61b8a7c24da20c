// Package secrets holds the current credential bundle read from the secret
// store and serves the last known-good copy when the store is unavailable.
package secrets

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/vault"
)

// Refresh outcomes reported to metrics.
const (
	RefreshSuccess  = "success"
	RefreshFallback = "fallback"
)

// Store is the secret store as seen by the cache. vault.Client satisfies it.
type Store interface {
	GetCurrentCredentials(ctx context.Context) (*vault.Credentials, error)
	GetKeyForVersion(ctx context.Context, version int) (string, error)
}

// Bundle is one snapshot of the credential bundle.
type Bundle struct {
	PrivateKey     string
	PublicKey      string
	Version        int
	Username       string
	PasswordSecret string
	FetchedAt      time.Time
}

// String describes the bundle without its secret fields.
func (b Bundle) String() string {
	return fmt.Sprintf("Bundle{version=%d, fetchedAt=%s}", b.Version, b.FetchedAt.Format(time.RFC3339))
}

// HasPublicKey reports whether the bundle can be used to verify tokens.
func (b Bundle) HasPublicKey() bool {
	return b.PublicKey != ""
}

// Cache owns the current bundle. Reads never fail: a failed refresh returns
// the previous snapshot, or the zero Bundle if none was ever fetched.
type Cache struct {
	store   Store
	logger  observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	current atomic.Pointer[Bundle]
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Cache) {
		c.metrics = metrics
	}
}

// NewCache creates an empty cache in front of store.
func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(observability.String("component", "secret-cache"))
	return c
}

// Snapshot returns the cached bundle without contacting the store.
func (c *Cache) Snapshot() Bundle {
	if b := c.current.Load(); b != nil {
		return *b
	}
	return Bundle{}
}

// GetCurrent fetches the bundle from the store, merges changed fields into
// the cached snapshot and returns it. Concurrent callers share one fetch.
// The fetch outlives a cancelled caller so the result still lands in the
// cache; the store bounds it with its own timeouts.
func (c *Cache) GetCurrent(ctx context.Context) Bundle {
	fetchCtx := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do("current", func() (any, error) {
		return c.refresh(fetchCtx), nil
	})
	return v.(Bundle)
}

func (c *Cache) refresh(ctx context.Context) Bundle {
	creds, err := c.store.GetCurrentCredentials(ctx)
	if err == nil && creds == nil {
		err = vault.ErrSecretNotFound
	}
	if err != nil {
		snapshot := c.Snapshot()
		c.logger.Warn("secret store refresh failed, serving cached bundle",
			observability.Int("cached_version", snapshot.Version),
			observability.Error(err),
		)
		c.metrics.RecordSecretRefresh(RefreshFallback)
		return snapshot
	}

	for {
		old := c.current.Load()
		next, changed := merge(old, creds)
		next.FetchedAt = c.now()
		if !c.current.CompareAndSwap(old, next) {
			continue
		}

		c.metrics.RecordSecretRefresh(RefreshSuccess)
		c.metrics.SetCurrentKeyVersion(next.Version)
		if len(changed) > 0 {
			oldVersion := 0
			if old != nil {
				oldVersion = old.Version
			}
			c.logger.Info("credential bundle updated",
				observability.Int("previous_version", oldVersion),
				observability.Int("version", next.Version),
				observability.Any("fields", changed),
			)
		}
		return *next
	}
}

// merge copies old and overwrites the fields that creds provides with a
// different value. Empty values from the store keep the cached value.
func merge(old *Bundle, creds *vault.Credentials) (*Bundle, []string) {
	next := &Bundle{}
	if old != nil {
		*next = *old
	}

	var changed []string
	setString := func(name string, dst *string, value string) {
		if value != "" && *dst != value {
			*dst = value
			changed = append(changed, name)
		}
	}
	setString("privateKey", &next.PrivateKey, creds.PrivateKey)
	setString("publicKey", &next.PublicKey, creds.PublicKey)
	setString("username", &next.Username, creds.Username)
	setString("passwordSecret", &next.PasswordSecret, creds.PasswordSecret)
	if creds.Version > 0 && next.Version != creds.Version {
		next.Version = creds.Version
		changed = append(changed, "version")
	}
	return next, changed
}

// FetchKeyForVersion returns the public key of version. When the store
// cannot provide it, the current public key is returned with exact set to
// false so callers can tell a fallback from the real key.
func (c *Cache) FetchKeyForVersion(ctx context.Context, version int) (key string, exact bool) {
	snapshot := c.Snapshot()
	if version > 0 && version == snapshot.Version && snapshot.HasPublicKey() {
		return snapshot.PublicKey, true
	}

	key, err := c.store.GetKeyForVersion(ctx, version)
	if err == nil && key != "" {
		return key, true
	}
	if err == nil {
		err = vault.ErrSecretNotFound
	}

	c.logger.Warn("key version fetch failed, falling back to current key",
		observability.Int("version", version),
		observability.Int("current_version", snapshot.Version),
		observability.Error(err),
	)
	return snapshot.PublicKey, false
}
