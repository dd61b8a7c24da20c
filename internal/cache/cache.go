// Package cache provides the shared Redis tier used behind in-process caches.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrConnectionFailed indicates that the cache connection failed.
	ErrConnectionFailed = errors.New("cache connection failed")
)

// Default Redis settings. The tier sits on the authentication path, so
// timeouts are as tight as the secret store's.
const (
	DefaultKeyPrefix    = "keygate:"
	DefaultDialTimeout  = 100 * time.Millisecond
	DefaultReadTimeout  = 200 * time.Millisecond
	DefaultWriteTimeout = 200 * time.Millisecond
	DefaultPoolSize     = 10
)

// Cache is a byte-oriented key/value store.
type Cache interface {
	// Get retrieves a value. Returns ErrCacheMiss if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A TTL of 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}

// Config configures the Redis connection.
type Config struct {
	Address      string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c == nil || c.Address == "" {
		return errors.Join(ErrInvalidConfig, errors.New("redis address is required"))
	}
	if c.DB < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("redis db cannot be negative"))
	}
	return nil
}

// GetKeyPrefix returns the effective key prefix.
func (c *Config) GetKeyPrefix() string {
	if c.KeyPrefix != "" {
		return c.KeyPrefix
	}
	return DefaultKeyPrefix
}

// GetDialTimeout returns the effective dial timeout.
func (c *Config) GetDialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return DefaultDialTimeout
}

// GetReadTimeout returns the effective read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return DefaultReadTimeout
}

// GetWriteTimeout returns the effective write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return DefaultWriteTimeout
}

// GetPoolSize returns the effective pool size.
func (c *Config) GetPoolSize() int {
	if c.PoolSize > 0 {
		return c.PoolSize
	}
	return DefaultPoolSize
}
