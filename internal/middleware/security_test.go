package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      SecurityHeadersConfig
		prepare  func(*http.Request)
		wantHSTS string
	}{
		{
			name: "plain http has no hsts",
			cfg:  SecurityHeadersConfig{HSTSMaxAge: DefaultHSTSMaxAge},
		},
		{
			name:     "tls request",
			cfg:      SecurityHeadersConfig{HSTSMaxAge: 600, IncludeSubDomains: true},
			prepare:  func(r *http.Request) { r.TLS = &tls.ConnectionState{} },
			wantHSTS: "max-age=600; includeSubDomains",
		},
		{
			name:     "forwarded https",
			cfg:      SecurityHeadersConfig{HSTSMaxAge: 600},
			prepare:  func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "HTTPS") },
			wantHSTS: "max-age=600",
		},
		{
			name:    "hsts disabled",
			prepare: func(r *http.Request) { r.TLS = &tls.ConnectionState{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := SecurityHeaders(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/keys", nil)
			if tt.prepare != nil {
				tt.prepare(req)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
			assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
			assert.Equal(t, tt.wantHSTS, rec.Header().Get("Strict-Transport-Security"))
		})
	}
}

func TestSecurityHeaders_Custom(t *testing.T) {
	t.Parallel()

	handler := SecurityHeaders(SecurityHeadersConfig{
		Custom: map[string]string{"X-Frame-Options": "SAMEORIGIN", "X-Service": "keygate"},
	})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "keygate", rec.Header().Get("X-Service"))
}
