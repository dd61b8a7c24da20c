// Package circuitbreaker guards calls to the secret store with a
// gobreaker circuit so that an unavailable store fails fast instead of
// stalling every request behind its timeouts.
package circuitbreaker

import (
	"time"
)

// Default circuit breaker settings.
const (
	DefaultMaxFailures = 5
	DefaultTimeout     = 10 * time.Second
	DefaultHalfOpenMax = 1
	DefaultInterval    = time.Minute
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// Enabled turns the breaker on. A disabled breaker passes every call through.
	Enabled bool

	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int

	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration

	// HalfOpenMax is the number of probe requests allowed while half-open.
	HalfOpenMax int

	// Interval is the cyclic period after which closed-state counts reset.
	Interval time.Duration

	// IsSuccessful reports whether an error should not count as a failure.
	// If nil, every non-nil error is a failure.
	IsSuccessful func(err error) bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		MaxFailures: DefaultMaxFailures,
		Timeout:     DefaultTimeout,
		HalfOpenMax: DefaultHalfOpenMax,
		Interval:    DefaultInterval,
	}
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	if c.MaxFailures < 1 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.Timeout < time.Millisecond {
		c.Timeout = DefaultTimeout
	}
	if c.HalfOpenMax < 1 {
		c.HalfOpenMax = DefaultHalfOpenMax
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
}
