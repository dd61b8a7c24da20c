package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/keygate/internal/audit"
	"github.com/vyrodovalexey/keygate/internal/auth"
	"github.com/vyrodovalexey/keygate/internal/health"
	"github.com/vyrodovalexey/keygate/internal/middleware"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/secrets"
)

// Defaults.
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMetricsPath     = "/actuator/prometheus"
)

// ErrNotRunning is returned by Stop when the server was never started.
var ErrNotRunning = errors.New("server is not running")

// TokenIssuer handles login and token renewal.
type TokenIssuer interface {
	Authenticate(ctx context.Context, username, password string) (*auth.TokenPair, error)
	Renew(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
}

// KeySource lists the cached version to public key entries.
type KeySource interface {
	Entries() map[int]string
}

// CurrentSource exposes the current credential bundle without refreshing.
type CurrentSource interface {
	Snapshot() secrets.Bundle
}

type protectedRoute struct {
	method  string
	path    string
	handler http.Handler
}

// Server is the HTTP server of the service.
type Server struct {
	address         string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	metricsPath     string

	gate    *auth.Gate
	tokens  TokenIssuer
	keys    KeySource
	current CurrentSource
	health  *health.Handler
	limiter *middleware.RateLimiter
	headers *middleware.SecurityHeadersConfig
	audit   audit.Logger
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	protected []protectedRoute

	engine  *gin.Engine
	handler http.Handler

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	running  atomic.Bool
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.address = addr
		}
	}
}

// WithTimeouts sets the read and write timeouts. Zero keeps the default.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
	}
}

// WithShutdownTimeout bounds the drain on Stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics enables request metrics and the scrape endpoint at path.
func WithMetrics(metrics *observability.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = metrics
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithTracer enables server spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// WithHealth mounts the health handler under /actuator.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithTokenIssuer mounts the login and renewal endpoints.
func WithTokenIssuer(tokens TokenIssuer) Option {
	return func(s *Server) {
		s.tokens = tokens
	}
}

// WithLoginRateLimiter limits login attempts per client.
func WithLoginRateLimiter(rl *middleware.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithSecurityHeaders adds hardening headers to every response.
func WithSecurityHeaders(cfg middleware.SecurityHeadersConfig) Option {
	return func(s *Server) {
		s.headers = &cfg
	}
}

// WithAuditLogger records logins, renewals and rate-limited attempts.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithKeySet mounts the JWKS endpoint over the cached keys and the current
// bundle.
func WithKeySet(keys KeySource, current CurrentSource) Option {
	return func(s *Server) {
		s.keys = keys
		s.current = current
	}
}

// WithProtectedHandler mounts h at method and path. Requests without an
// authenticated identity are rejected before h runs.
func WithProtectedHandler(method, path string, h http.Handler) Option {
	return func(s *Server) {
		s.protected = append(s.protected, protectedRoute{method: method, path: path, handler: h})
	}
}

// New creates a server in front of gate.
func New(gate *auth.Gate, opts ...Option) (*Server, error) {
	if gate == nil {
		return nil, errors.New("authentication gate is required")
	}

	s := &Server{
		address:         DefaultAddress,
		readTimeout:     DefaultReadTimeout,
		writeTimeout:    DefaultWriteTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
		metricsPath:     DefaultMetricsPath,
		gate:            gate,
		audit:           audit.NewNoopLogger(),
		logger:          observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.HandleMethodNotAllowed = true
	s.setupRoutes()
	s.handler = s.buildChain(s.engine)

	return s, nil
}

// buildChain wraps the engine as Recovery, RequestID, Tracing, Metrics,
// Gate from outermost to innermost.
func (s *Server) buildChain(engine http.Handler) http.Handler {
	h := s.gate.Middleware(engine)
	if s.metrics != nil {
		h = observability.MetricsMiddleware(s.metrics)(h)
	}
	if s.tracer != nil {
		h = observability.TracingMiddleware(s.tracer)(h)
	}
	if s.headers != nil {
		h = middleware.SecurityHeaders(*s.headers)(h)
	}
	h = middleware.RequestID()(h)
	return middleware.Recovery(s.logger)(h)
}

// Handler returns the full middleware chain around the engine.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return errors.New("server is already running")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	s.listener = ln
	s.done = make(chan struct{})
	s.running.Store(true)

	s.logger.Info("http server started", observability.String("address", ln.Addr().String()))

	go s.serve(ln, s.srv, s.done)
	return nil
}

func (s *Server) serve(ln net.Listener, srv *http.Server, done chan struct{}) {
	defer close(done)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("http server failed", observability.Error(err))
	}
	s.running.Store(false)
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	if srv == nil || !s.running.Load() {
		return ErrNotRunning
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	s.logger.Info("stopping http server")
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("failed to drain http server: %w", err)
	}
	<-done

	s.logger.Info("http server stopped")
	return nil
}
