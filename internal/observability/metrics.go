package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the metrics namespace used when none is given.
const DefaultNamespace = "keygate"

// Metrics holds all Prometheus metrics for the service. All record methods
// are safe to call on a nil receiver.
type Metrics struct {
	authRequests      *prometheus.CounterVec
	authDuration      prometheus.Histogram
	keyCache          *prometheus.CounterVec
	secretRefresh     *prometheus.CounterVec
	currentKeyVersion prometheus.Gauge
	vaultRequests     *prometheus.CounterVec
	vaultDuration     *prometheus.HistogramVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	tokensIssued      *prometheus.CounterVec
	circuitBreaker    *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewMetrics builds the service metrics on a private registry that also
// carries the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}
	}
	histogram := func(name, help string, buckets []float64) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}
	}

	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		authRequests:  counter("auth_requests_total", "Authentication gate outcomes by result", "result"),
		keyCache:      counter("key_cache_total", "Key material cache lookups by result", "result"),
		secretRefresh: counter("secret_refresh_total", "Credential bundle refreshes by status", "status"),
		vaultRequests: counter("vault_requests_total", "Secret store requests by operation and status", "operation", "status"),
		httpRequests:  counter("http_requests_total", "Served HTTP requests by method and status", "method", "status"),
		tokensIssued:  counter("tokens_issued_total", "Tokens issued by type", "type"),
		authDuration: prometheus.NewHistogram(histogram("auth_duration_seconds",
			"Time spent in the authentication gate", gateBuckets)),
		vaultDuration: prometheus.NewHistogramVec(histogram("vault_request_duration_seconds",
			"Secret store request latency", backendBuckets), []string{"operation"}),
		httpDuration: prometheus.NewHistogramVec(histogram("http_request_duration_seconds",
			"HTTP request latency", prometheus.DefBuckets), []string{"method"}),
		currentKeyVersion: prometheus.NewGauge(gauge("current_key_version",
			"Version of the current signing key pair")),
		circuitBreaker: prometheus.NewGaugeVec(gauge("circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)"), []string{"name"}),
	}

	m.registry.MustRegister(
		m.authRequests, m.authDuration,
		m.keyCache, m.secretRefresh, m.currentKeyVersion,
		m.vaultRequests, m.vaultDuration,
		m.httpRequests, m.httpDuration,
		m.tokensIssued, m.circuitBreaker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

var (
	gateBuckets    = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1}
	backendBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}
)

// RecordAuth records an authentication gate outcome.
func (m *Metrics) RecordAuth(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(result).Inc()
	m.authDuration.Observe(duration.Seconds())
}

// RecordKeyCache records a key material cache lookup.
func (m *Metrics) RecordKeyCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.keyCache.WithLabelValues("hit").Inc()
		return
	}
	m.keyCache.WithLabelValues("miss").Inc()
}

// RecordSecretRefresh records a credential bundle refresh outcome.
func (m *Metrics) RecordSecretRefresh(status string) {
	if m == nil {
		return
	}
	m.secretRefresh.WithLabelValues(status).Inc()
}

// SetCurrentKeyVersion publishes the current key version.
func (m *Metrics) SetCurrentKeyVersion(version int) {
	if m == nil {
		return
	}
	m.currentKeyVersion.Set(float64(version))
}

// RecordVaultRequest records a Vault request.
func (m *Metrics) RecordVaultRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.vaultRequests.WithLabelValues(operation, status).Inc()
	m.vaultDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTokenIssued records an issued token.
func (m *Metrics) RecordTokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(tokenType).Inc()
}

// SetCircuitBreakerState publishes a circuit breaker state.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.circuitBreaker.WithLabelValues(name).Set(float64(state))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsMiddleware counts and times every request by method and status.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)
			metrics.RecordHTTPRequest(r.Method, sw.status, time.Since(began))
		})
	}
}
