package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/observability"
)

// DefaultBypassPath is the prefix of health and monitoring routes.
const DefaultBypassPath = "/actuator"

// Gate outcomes reported to metrics in addition to error kinds.
const (
	ResultAuthenticated = "authenticated"
	ResultAnonymous     = "anonymous"
	ResultBypass        = "bypass"
)

const tracerName = "keygate/auth"

// Gate authenticates bearer tokens on inbound requests.
//
// Requests without a token pass through without an identity; handlers
// decide whether that is acceptable. Requests with a token either carry an
// Identity downstream or are answered with 401 and never reach the handler.
type Gate struct {
	resolver    *KeyResolver
	bypassPaths []string
	logger      observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithBypassPaths replaces the path prefixes that skip token processing.
func WithBypassPaths(paths ...string) GateOption {
	return func(g *Gate) {
		g.bypassPaths = paths
	}
}

// WithGateLogger sets the logger used for access and rejection lines.
func WithGateLogger(logger observability.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateMetrics sets the metrics sink.
func WithGateMetrics(metrics *observability.Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// NewGate creates a gate that verifies tokens through resolver.
func NewGate(resolver *KeyResolver, opts ...GateOption) *Gate {
	g := &Gate{
		resolver:    resolver,
		bypassPaths: []string{DefaultBypassPath},
		logger:      observability.NopLogger(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) bypass(path string) bool {
	for _, prefix := range g.bypassPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ExtractBearerToken returns the token of an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Middleware wraps next with token authentication.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.bypass(r.URL.Path) {
			g.metrics.RecordAuth(ResultBypass, 0)
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ctx := observability.ContextWithCorrelationID(r.Context(), uuid.NewString())

		ctx, span := g.tracer.Start(ctx, "auth.gate", trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()
		if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
			span.SetAttributes(attribute.String("http.request.id", requestID))
		}

		token := ExtractBearerToken(r)
		if token == "" {
			span.SetAttributes(attribute.String("auth.result", ResultAnonymous))
			g.metrics.RecordAuth(ResultAnonymous, time.Since(start))
			g.serve(w, r.WithContext(ctx), next, start, nil)
			return
		}

		ctx, claims, err := g.resolver.Verify(ctx, token)
		if err == nil && !claims.IsAccess() {
			err = NewError(KindWrongTokenType, nil)
		}
		if err != nil {
			kind := KindOf(err)
			span.SetAttributes(attribute.String("auth.result", kind.String()))
			span.SetStatus(codes.Error, kind.String())
			g.metrics.RecordAuth(kind.String(), time.Since(start))
			g.reject(w, r.WithContext(ctx), err, start)
			return
		}

		identity := identityFromClaims(claims)
		span.SetAttributes(
			attribute.String("auth.result", ResultAuthenticated),
			attribute.Int("auth.key_version", identity.KeyVersion),
		)
		g.metrics.RecordAuth(ResultAuthenticated, time.Since(start))
		g.serve(w, r.WithContext(ContextWithIdentity(ctx, identity)), next, start, identity)
	})
}

func identityFromClaims(claims *jwt.Claims) *Identity {
	identity := &Identity{
		Subject:    claims.Subject,
		Scope:      claims.Scope,
		KeyVersion: claims.RSAKeyVersion,
		TokenType:  claims.TokenType,
		TokenID:    claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity
}

func (g *Gate) serve(w http.ResponseWriter, r *http.Request, next http.Handler, start time.Time, identity *Identity) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(rec, r)

	fields := []observability.Field{
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int("status", rec.status),
		observability.Duration("duration", time.Since(start)),
	}
	if identity != nil {
		fields = append(fields,
			observability.String("subject", identity.Subject),
			observability.Int("key_version", identity.KeyVersion),
		)
	}
	g.logger.WithContext(r.Context()).Info("request completed", fields...)
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error, start time.Time) {
	kind := KindOf(err)
	WriteError(w, err)

	fields := []observability.Field{
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int("status", kind.Status()),
		observability.Duration("duration", time.Since(start)),
		observability.String("error_kind", kind.String()),
		observability.Error(err),
	}
	if version, ok := KeyVersionFromContext(r.Context()); ok {
		fields = append(fields, observability.Int("key_version", version))
	}
	g.logger.WithContext(r.Context()).Warn("authentication rejected", fields...)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
