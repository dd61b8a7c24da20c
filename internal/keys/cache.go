// Package keys caches public keys by key version. Entries are immutable:
// once a version maps to a key, the mapping never changes for the life of
// the process.
package keys

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/keygate/internal/cache"
	"github.com/vyrodovalexey/keygate/internal/observability"
)

// ErrVersionUnavailable indicates that the exact key of a version could not
// be resolved.
var ErrVersionUnavailable = errors.New("key version unavailable")

const sharedKeyPrefix = "key:"

// Loader fetches the key of a version from the secret store. exact is
// false when key is a fallback rather than the key of version.
type Loader interface {
	FetchKeyForVersion(ctx context.Context, version int) (key string, exact bool)
}

// Cache maps key versions to public keys with an optional shared tier.
type Cache struct {
	loader    Loader
	shared    cache.Cache
	sharedTTL time.Duration
	logger    observability.Logger
	metrics   *observability.Metrics

	entries sync.Map // int -> string
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithSharedTier adds a read-through tier consulted on in-process misses.
// A ttl of 0 keeps entries without expiry.
func WithSharedTier(shared cache.Cache, ttl time.Duration) Option {
	return func(c *Cache) {
		c.shared = shared
		c.sharedTTL = ttl
	}
}

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

// New creates an empty key cache backed by loader.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader: loader,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(observability.String("component", "key-cache"))
	return c
}

// Get returns the in-process entry for version.
func (c *Cache) Get(version int) (string, bool) {
	v, ok := c.entries.Load(version)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Put inserts key for version unless the version is already cached, and
// returns the key now held for version.
func (c *Cache) Put(version int, key string) string {
	actual, loaded := c.entries.LoadOrStore(version, key)
	if loaded && actual.(string) != key {
		c.logger.Warn("ignoring different key material for cached version",
			observability.Int("version", version),
		)
	}
	return actual.(string)
}

// Resolve returns the public key of version from the in-process map, the
// shared tier or the loader, in that order. Concurrent misses for one
// version share a single load. A loader fallback is never cached and
// yields ErrVersionUnavailable.
func (c *Cache) Resolve(ctx context.Context, version int) (string, error) {
	if version <= 0 {
		return "", fmt.Errorf("%w: version %d", ErrVersionUnavailable, version)
	}
	if key, ok := c.Get(version); ok {
		c.metrics.RecordKeyCache(true)
		return key, nil
	}
	c.metrics.RecordKeyCache(false)

	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(strconv.Itoa(version), func() (any, error) {
		return c.load(loadCtx, version)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) load(ctx context.Context, version int) (string, error) {
	if key, ok := c.Get(version); ok {
		return key, nil
	}

	if key, ok := c.readShared(ctx, version); ok {
		return c.Put(version, key), nil
	}

	key, exact := c.loader.FetchKeyForVersion(ctx, version)
	if !exact || key == "" {
		return "", fmt.Errorf("%w: version %d", ErrVersionUnavailable, version)
	}

	stored := c.Put(version, key)
	c.writeShared(ctx, version, stored)
	c.logger.Debug("cached key version", observability.Int("version", version))
	return stored, nil
}

func (c *Cache) readShared(ctx context.Context, version int) (string, bool) {
	if c.shared == nil {
		return "", false
	}
	raw, err := c.shared.Get(ctx, sharedKey(version))
	switch {
	case err == nil && len(raw) > 0:
		return string(raw), true
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		c.logger.Warn("shared key cache read failed",
			observability.Int("version", version),
			observability.Error(err),
		)
	}
	return "", false
}

func (c *Cache) writeShared(ctx context.Context, version int, key string) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, sharedKey(version), []byte(key), c.sharedTTL); err != nil {
		c.logger.Warn("shared key cache write failed",
			observability.Int("version", version),
			observability.Error(err),
		)
	}
}

func sharedKey(version int) string {
	return sharedKeyPrefix + strconv.Itoa(version)
}

// Versions returns the cached versions in ascending order.
func (c *Cache) Versions() []int {
	var versions []int
	c.entries.Range(func(k, _ any) bool {
		versions = append(versions, k.(int))
		return true
	})
	sort.Ints(versions)
	return versions
}

// Entries returns a copy of the in-process entries.
func (c *Cache) Entries() map[int]string {
	out := make(map[int]string)
	c.entries.Range(func(k, v any) bool {
		out[k.(int)] = v.(string)
		return true
	})
	return out
}

// Close releases the shared tier, if any.
func (c *Cache) Close() error {
	if c.shared == nil {
		return nil
	}
	return c.shared.Close()
}
