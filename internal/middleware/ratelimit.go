package middleware

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

const (
	DefaultLoginRPS   = 5
	DefaultLoginBurst = 10
	// DefaultClientTTL is how long an idle client keeps its bucket.
	DefaultClientTTL = 10 * time.Minute

	minSweepInterval = 10 * time.Second
	maxSweepInterval = time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter throttles login attempts with one token bucket per client IP.
type RateLimiter struct {
	rps       float64
	burst     int
	clientTTL time.Duration
	extractor *ClientIPExtractor
	logger    observability.Logger
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) { rl.logger = logger }
}

// WithClientIPExtractor decides which address counts as the client.
func WithClientIPExtractor(e *ClientIPExtractor) RateLimiterOption {
	return func(rl *RateLimiter) { rl.extractor = e }
}

// WithClientTTL overrides DefaultClientTTL. Non-positive values are ignored.
func WithClientTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if ttl > 0 {
			rl.clientTTL = ttl
		}
	}
}

// NewRateLimiter allows each client rps requests per second with bursts of
// burst. Non-positive arguments select DefaultLoginRPS and DefaultLoginBurst.
func NewRateLimiter(rps float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &RateLimiter{
		rps:       rps,
		burst:     burst,
		clientTTL: DefaultClientTTL,
		extractor: NewClientIPExtractor(nil),
		logger:    observability.NopLogger(),
		now:       time.Now,
		buckets:   map[string]*bucket{},
		ctx:       ctx,
		cancel:    cancel,
	}
	if rl.rps <= 0 {
		rl.rps = DefaultLoginRPS
	}
	if rl.burst <= 0 {
		rl.burst = DefaultLoginBurst
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// ClientIP is the address r is limited under.
func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return rl.extractor.Extract(r)
}

// Allow takes one token from the bucket of clientIP.
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	b := rl.buckets[clientIP]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(rl.rps), rl.burst)}
		rl.buckets[clientIP] = b
	}
	b.seen = rl.now()
	rl.mu.Unlock()

	return b.lim.Allow()
}

// Reject answers a throttled request with 429 and a Retry-After of at
// least one second.
func (rl *RateLimiter) Reject(w http.ResponseWriter, r *http.Request) {
	ip := rl.ClientIP(r)
	rl.logger.WithContext(r.Context()).Warn("rate limit exceeded",
		observability.String("client_ip", ip),
		observability.String("path", r.URL.Path),
	)

	wait := max(int(math.Ceil(1/rl.rps)), 1)
	h := w.Header()
	h.Set(HeaderContentType, ContentTypeJSON)
	h.Set(HeaderRetryAfter, strconv.Itoa(wait))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = io.WriteString(w, bodyRateLimitExceeded)
}

// Middleware throttles every request passing through next.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.Allow(rl.ClientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		rl.Reject(w, r)
	})
}

// EvictIdle drops the buckets of clients not seen for longer than maxIdle
// and returns how many were dropped.
func (rl *RateLimiter) EvictIdle(maxIdle time.Duration) int {
	cutoff := rl.now().Add(-maxIdle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for ip, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, ip)
			evicted++
		}
	}
	if evicted > 0 {
		rl.logger.Debug("evicted idle rate limit buckets",
			observability.Int("evicted", evicted),
			observability.Int("remaining", len(rl.buckets)),
		)
	}
	return evicted
}

// StartCleanup sweeps idle buckets in the background until Stop.
func (rl *RateLimiter) StartCleanup() {
	if rl.ctx.Err() != nil {
		return
	}
	every := min(max(rl.clientTTL/2, minSweepInterval), maxSweepInterval)

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-rl.ctx.Done():
				return
			case <-ticker.C:
				rl.EvictIdle(rl.clientTTL)
			}
		}
	}()
}

// Stop ends background cleanup. Repeated calls are no-ops.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(rl.cancel)
}

func (rl *RateLimiter) clientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
