// Package middleware provides the HTTP middleware wrapped around the
// service engine.
//
//   - RequestID: assigns the request id used as a log and trace label
//   - Recovery: turns handler panics into a JSON 500
//   - RateLimiter: per-client token buckets for the login endpoint
//   - ClientIPExtractor: trusted proxy-aware client IP extraction
//
// Middleware functions follow the standard Go pattern:
//
//	handler := middleware.Recovery(logger)(
//	    middleware.RequestID()(engine),
//	)
package middleware

// HTTP header names.
const (
	HeaderContentType   = "Content-Type"
	HeaderRetryAfter    = "Retry-After"
	HeaderXRequestID    = "X-Request-ID"
	HeaderXForwardedFor = "X-Forwarded-For"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// Error bodies share the {"error","code"} shape of authentication failures.
const (
	bodyInternalError     = `{"error":"Internal server error","code":"5000"}`
	bodyRateLimitExceeded = `{"error":"Too many requests","code":"42900"}`
)
