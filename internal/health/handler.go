package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keygate/internal/observability"
)

// Status is an overall or per-check health status.
type Status string

// Health statuses.
const (
	StatusUp       Status = "UP"
	StatusDown     Status = "DOWN"
	StatusDegraded Status = "DEGRADED"
)

// DefaultReadinessTimeout bounds one readiness evaluation.
const DefaultReadinessTimeout = 5 * time.Second

// Report is the readiness response body.
type Report struct {
	Status    Status                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Version   string                  `json:"version,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler runs health checks and serves the actuator endpoints.
type Handler struct {
	version   string
	timeout   time.Duration
	logger    observability.Logger
	metrics   *Metrics
	startTime time.Time

	mu     sync.RWMutex
	checks []*Check
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics sets the check status metrics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithTimeout sets the readiness timeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler creates a handler reporting the given build version.
func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		version:   version,
		timeout:   DefaultReadinessTimeout,
		logger:    observability.NopLogger(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers a check. A check with the same name is replaced.
func (h *Handler) AddCheck(check *Check) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, existing := range h.checks {
		if existing.name == check.name {
			h.checks[i] = check
			return
		}
	}
	h.checks = append(h.checks, check)
}

// Names returns the registered check names in sorted order.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}

// Readiness runs every check concurrently and aggregates the result.
func (h *Handler) Readiness(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]*Check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	report := &Report{
		Status:    StatusUp,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()

			start := time.Now()
			detail, err := c.fn(ctx)
			elapsed := time.Since(start)

			result := &CheckResult{
				Status:   StatusUp,
				Detail:   detail,
				Duration: elapsed.String(),
			}
			if err != nil {
				result.Status = StatusDown
				result.Error = err.Error()
				h.logger.Warn("health check failed",
					observability.String("check", c.name),
					observability.Bool("critical", c.critical),
					observability.Duration("duration", elapsed),
					observability.Error(err),
				)
			}
			h.metrics.observe(c.name, err, elapsed)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[c.name] = result
			if err == nil {
				return
			}
			if c.critical {
				report.Status = StatusDown
			} else if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}(check)
	}
	wg.Wait()

	return report
}

// LivenessHandler answers UP while the process serves requests.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": StatusUp})
	}
}

// ReadinessHandler answers 503 when a critical check fails.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		report := h.Readiness(c.Request.Context())

		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

// RegisterRoutes mounts health, liveness and readiness under group.
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/health", h.ReadinessHandler())
	group.GET("/health/liveness", h.LivenessHandler())
	group.GET("/health/readiness", h.ReadinessHandler())
}
