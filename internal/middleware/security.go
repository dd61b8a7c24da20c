package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultHSTSMaxAge is one year in seconds.
const DefaultHSTSMaxAge = 31536000

// SecurityHeadersConfig selects the response headers added to every
// response. Token responses must never be cached, so Cache-Control is
// always no-store.
type SecurityHeadersConfig struct {
	// HSTSMaxAge enables Strict-Transport-Security on HTTPS requests when
	// positive.
	HSTSMaxAge        int
	IncludeSubDomains bool
	// Custom headers are set after the fixed ones and may override them.
	Custom map[string]string
}

// SecurityHeaders returns a middleware adding hardening headers.
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	hsts := ""
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
		if cfg.IncludeSubDomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Referrer-Policy", "no-referrer")
			if hsts != "" && isSecureRequest(r) {
				h.Set("Strict-Transport-Security", hsts)
			}
			for name, value := range cfg.Custom {
				h.Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
