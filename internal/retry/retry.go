package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Defaults sized for calls on the request path.
const (
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 20 * time.Millisecond
	DefaultMaxBackoff     = 500 * time.Millisecond
	DefaultJitterFactor   = 0.25
	MaxJitterFactor       = 1.0
)

// Config bounds a retry loop. A nil *Config behaves as DefaultConfig.
type Config struct {
	// MaxRetries counts retries after the first attempt. Zero disables
	// retrying; a negative value means the default.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// JitterFactor adds up to this fraction of the backoff, clamped to 1.
	JitterFactor float64
}

// DefaultConfig returns a fresh default Config.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

func (c *Config) GetMaxRetries() int {
	if c == nil || c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

func (c *Config) GetJitterFactor() float64 {
	switch {
	case c == nil || c.JitterFactor <= 0:
		return DefaultJitterFactor
	case c.JitterFactor > MaxJitterFactor:
		return MaxJitterFactor
	default:
		return c.JitterFactor
	}
}

// RetryableFunc is one attempt.
type RetryableFunc func() error

// ShouldRetryFunc reports whether err is worth another attempt.
type ShouldRetryFunc func(error) bool

// OnRetryFunc observes a retry before its backoff starts.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options tunes Do. A nil ShouldRetry retries every error.
type Options struct {
	ShouldRetry ShouldRetryFunc
	OnRetry     OnRetryFunc
}

func (o *Options) retryable(err error) bool {
	return o == nil || o.ShouldRetry == nil || o.ShouldRetry(err)
}

func (o *Options) notify(attempt int, err error, backoff time.Duration) {
	if o != nil && o.OnRetry != nil {
		o.OnRetry(attempt, err, backoff)
	}
}

// Do runs fn until it succeeds or a stop condition holds. Do stops on a
// non-retryable error, on exhausted retries, or when ctx is done. Once an
// attempt has failed, the last attempt error is returned rather than the
// context error.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	retries := cfg.GetMaxRetries()
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= retries || !opts.retryable(err) {
			return err
		}

		wait := CalculateBackoff(attempt, cfg.GetInitialBackoff(), cfg.GetMaxBackoff(), cfg.GetJitterFactor())
		opts.notify(attempt+1, err, wait)
		if !sleep(ctx, wait) {
			return err
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return ctx.Err() == nil
	}
}

// DoValue is Do for an fn that returns a value.
func DoValue[T any](ctx context.Context, cfg *Config, fn func() (T, error), opts *Options) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		v, err := fn()
		if err == nil {
			out = v
		}
		return err
	}, opts)
	return out, err
}

// CalculateBackoff returns initial doubled attempt times, plus up to
// jitter of itself, capped at maxBackoff.
func CalculateBackoff(attempt int, initial, maxBackoff time.Duration, jitter float64) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := float64(initial) * float64(uint64(1)<<uint(attempt))
	d += d * jitter * rand.Float64() //nolint:gosec // timing jitter only
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}
