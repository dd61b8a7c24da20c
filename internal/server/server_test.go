package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/keygate/internal/audit"
	"github.com/vyrodovalexey/keygate/internal/auth"
	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/health"
	"github.com/vyrodovalexey/keygate/internal/keys"
	"github.com/vyrodovalexey/keygate/internal/middleware"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/secrets"
	"github.com/vyrodovalexey/keygate/internal/vault"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type pemPair struct {
	private string
	public  string
}

var (
	pairsOnce sync.Once
	pairs     []pemPair
	pairsErr  error
)

func testPairs(t *testing.T) []pemPair {
	t.Helper()

	pairsOnce.Do(func() {
		for i := 0; i < 2; i++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				pairsErr = err
				return
			}
			privDER, err := x509.MarshalPKCS8PrivateKey(key)
			if err != nil {
				pairsErr = err
				return
			}
			pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
			if err != nil {
				pairsErr = err
				return
			}
			pairs = append(pairs, pemPair{
				private: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
				public:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
			})
		}
	})
	require.NoError(t, pairsErr)
	return pairs
}

type fakeStore struct {
	mu      sync.Mutex
	current int
	pairs   []pemPair
}

func (s *fakeStore) GetCurrentCredentials(context.Context) (*vault.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pairs[s.current-1]
	return &vault.Credentials{
		PrivateKey:     p.private,
		PublicKey:      p.public,
		Version:        s.current,
		Username:       "watermark",
		PasswordSecret: "s3cret",
	}, nil
}

func (s *fakeStore) GetKeyForVersion(_ context.Context, version int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version < 1 || version > s.current {
		return "", vault.ErrSecretNotFound
	}
	return s.pairs[version-1].public, nil
}

func (s *fakeStore) rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
}

type fixture struct {
	store   *fakeStore
	secrets *secrets.Cache
	keys    *keys.Cache
	metrics *observability.Metrics
	server  *Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := &fakeStore{current: 1, pairs: testPairs(t)}
	sc := secrets.NewCache(store)
	kc := keys.New(sc)
	resolver := auth.NewKeyResolver(kc, sc, jwt.NewVerifierFactory())
	metrics := observability.NewMetrics("servertest")
	tokens := auth.NewTokenService(sc, jwt.NewSignerFactory(), resolver, &auth.TokenConfig{Issuer: "keygate-test"},
		auth.WithTokenMetrics(metrics),
	)

	base := []Option{
		WithTokenIssuer(tokens),
		WithKeySet(kc, sc),
		WithMetrics(metrics, ""),
		WithHealth(health.NewHandler("test")),
	}
	srv, err := New(auth.NewGate(resolver), append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{store: store, secrets: sc, keys: kc, metrics: metrics, server: srv}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(r.body, &out), string(r.body))
	return out
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return response{status: rec.Code, header: rec.Header(), body: rec.Body.Bytes()}
}

func (f *fixture) login(t *testing.T) auth.TokenPair {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/api/authenticate", "", map[string]string{
		"username": "watermark",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	var env struct {
		Result auth.TokenPair `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &env))
	return env.Result
}

func TestNew_RequiresGate(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/authenticate", "", map[string]string{
		"username": "watermark",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusOK, resp.status)

	body := resp.json(t)
	assert.Equal(t, "RESULT", body["responseType"])
	assert.Equal(t, []any{"OK"}, body["message"])
	assert.Equal(t, "200", body["code"])
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, result["accessToken"])
	assert.NotEmpty(t, result["refreshToken"])
	assert.NotEmpty(t, resp.header.Get(middleware.HeaderXRequestID))
}

func TestAuthenticate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantBody   string
	}{
		{
			name:       "wrong password",
			body:       map[string]string{"username": "watermark", "password": "nope"},
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"Invalid username or password","code":"40101"}`,
		},
		{
			name:       "missing username",
			body:       map[string]string{"password": "s3cret"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body","code":"40000"}`,
		},
		{
			name:       "not json",
			body:       "plain",
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body","code":"40000"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := newFixture(t).do(t, http.MethodPost, "/api/authenticate", "", tt.body)
			assert.Equal(t, tt.wantStatus, resp.status)
			assert.JSONEq(t, tt.wantBody, string(resp.body))
		})
	}
}

func TestWhoami(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := f.login(t)

	resp := f.do(t, http.MethodGet, "/api/whoami", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"subject":"watermark","scope":"WATERMARK_ADD","keyVersion":1}`, string(resp.body))
}

func TestWhoami_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := f.login(t)

	tests := []struct {
		name     string
		token    string
		wantBody string
	}{
		{name: "no token", token: "", wantBody: `{"error":"Invalid or missing token.","code":"40104"}`},
		{name: "garbage token", token: "abc.def", wantBody: `{"error":"Invalid or missing token.","code":"40104"}`},
		{name: "refresh token", token: pair.RefreshToken, wantBody: `{"error":"Invalid or missing token.","code":"40104"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp := f.do(t, http.MethodGet, "/api/whoami", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.status)
			assert.Equal(t, "Bearer", resp.header.Get("WWW-Authenticate"))
			assert.JSONEq(t, tt.wantBody, string(resp.body))
		})
	}
}

func TestRenewToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := f.login(t)

	f.store.rotate()

	resp := f.do(t, http.MethodPost, "/api/renewToken", "", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	var env struct {
		Result auth.TokenPair `json:"result"`
		Code   string         `json:"code"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &env))
	assert.Equal(t, "200", env.Code)
	assert.Equal(t, pair.RefreshToken, env.Result.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, env.Result.AccessToken)

	who := f.do(t, http.MethodGet, "/api/whoami", env.Result.AccessToken, nil)
	require.Equal(t, http.StatusOK, who.status)
	assert.Equal(t, float64(2), who.json(t)["keyVersion"], "renewed token is signed with the rotated key")

	old := f.do(t, http.MethodGet, "/api/whoami", pair.AccessToken, nil)
	assert.Equal(t, http.StatusOK, old.status, "tokens of the previous version still verify")
}

func TestRenewToken_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := f.login(t)

	resp := f.do(t, http.MethodPost, "/api/renewToken", "", map[string]string{"refreshToken": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.JSONEq(t, `{"error":"Invalid or missing token.","code":"40104"}`, string(resp.body))

	resp = f.do(t, http.MethodPost, "/api/renewToken", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestKeys(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := f.login(t)
	f.store.rotate()
	f.login(t)

	// Verifying the version 1 token caches that version.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/whoami", pair.AccessToken, nil).status)

	resp := f.do(t, http.MethodGet, "/api/keys", "", nil)
	require.Equal(t, http.StatusOK, resp.status)

	var set struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Alg string `json:"alg"`
			Use string `json:"use"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(resp.body, &set))

	kids := make([]string, 0, len(set.Keys))
	for _, k := range set.Keys {
		kids = append(kids, k.Kid)
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "RS256", k.Alg)
		assert.Equal(t, "sig", k.Use)
	}
	assert.ElementsMatch(t, []string{"1", "2"}, kids)
}

func TestBypassPaths(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, path := range []string{"/actuator/health/liveness", "/actuator/health", "/actuator/prometheus"} {
		resp := f.do(t, http.MethodGet, path, "not-a-token", nil)
		assert.Equal(t, http.StatusOK, resp.status, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.login(t)

	resp := f.do(t, http.MethodGet, "/actuator/prometheus", "", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, string(resp.body), `servertest_http_requests_total{method="POST",status="200"} 1`)
	assert.Contains(t, string(resp.body), `servertest_tokens_issued_total{type="ACCESS"} 1`)
}

func TestProtectedHandler(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		subject string
	)
	f := newFixture(t,
		WithProtectedHandler("post", "/api/watermark", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := auth.IdentityFromContext(r.Context())
			mu.Lock()
			subject = identity.Subject
			mu.Unlock()
			w.WriteHeader(http.StatusAccepted)
		})),
		WithProtectedHandler(http.MethodGet, "/api/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		})),
	)
	pair := f.login(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/watermark", "", nil).status)

	resp := f.do(t, http.MethodPost, "/api/watermark", pair.AccessToken, nil)
	assert.Equal(t, http.StatusAccepted, resp.status)
	mu.Lock()
	assert.Equal(t, "watermark", subject)
	mu.Unlock()

	resp = f.do(t, http.MethodGet, "/api/panic", pair.AccessToken, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.JSONEq(t, `{"error":"Internal server error","code":"5000"}`, string(resp.body))
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()

	limiter := middleware.NewRateLimiter(0.001, 1)
	t.Cleanup(limiter.Stop)
	f := newFixture(t, WithLoginRateLimiter(limiter))

	f.login(t)

	resp := f.do(t, http.MethodPost, "/api/authenticate", "", map[string]string{
		"username": "watermark",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
	assert.NotEmpty(t, resp.header.Get(middleware.HeaderRetryAfter))

	renew := f.do(t, http.MethodPost, "/api/renewToken", "", map[string]string{"refreshToken": "x"})
	assert.NotEqual(t, http.StatusTooManyRequests, renew.status, "only login is rate limited")
}

func TestSecurityHeadersOnRejection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithSecurityHeaders(middleware.SecurityHeadersConfig{}))

	resp := f.do(t, http.MethodGet, "/api/whoami", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "no-store", resp.header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", resp.header.Get("X-Content-Type-Options"))
}

// syncBuffer is a bytes.Buffer safe for the audit logger's writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var event map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		out = append(out, event)
	}
	return out
}

func TestAuditTrail(t *testing.T) {
	t.Parallel()

	sink := &syncBuffer{}
	cfg := audit.DefaultConfig()
	cfg.Enabled = true
	auditLogger, err := audit.NewLogger(cfg, audit.WithWriter(sink))
	require.NoError(t, err)

	limiter := middleware.NewRateLimiter(0.001, 2)
	t.Cleanup(limiter.Stop)
	f := newFixture(t, WithAuditLogger(auditLogger), WithLoginRateLimiter(limiter))

	f.login(t)
	bad := f.do(t, http.MethodPost, "/api/authenticate", "", map[string]string{
		"username": "watermark",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, bad.status)
	limited := f.do(t, http.MethodPost, "/api/authenticate", "", map[string]string{
		"username": "watermark",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusTooManyRequests, limited.status)

	events := sink.lines(t)
	require.Len(t, events, 3)

	assert.Equal(t, "login", events[0]["action"])
	assert.Equal(t, "success", events[0]["outcome"])
	assert.Equal(t, "watermark", events[0]["subject"])
	assert.NotEmpty(t, events[0]["request_id"])

	assert.Equal(t, "failure", events[1]["outcome"])
	assert.Equal(t, auth.KindWrongCredentials.String(), events[1]["reason"])

	assert.Equal(t, "security", events[2]["type"])
	assert.Equal(t, "rate_limit_exceeded", events[2]["action"])
	assert.Equal(t, "denied", events[2]["outcome"])

	sink.mu.Lock()
	raw := sink.buf.String()
	sink.mu.Unlock()
	assert.NotContains(t, raw, "wrong-password")
	assert.NotContains(t, raw, "s3cret")
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, WithAddress("127.0.0.1:0"), WithShutdownTimeout(5*time.Second))
	assert.Nil(t, f.server.Addr())
	assert.ErrorIs(t, f.server.Stop(context.Background()), ErrNotRunning)

	require.NoError(t, f.server.Start(context.Background()))
	assert.True(t, f.server.IsRunning())
	assert.Error(t, f.server.Start(context.Background()), "second start fails")

	url := fmt.Sprintf("http://%s/actuator/health/liveness", f.server.Addr().String())
	resp, err := http.Get(url) //nolint:noctx // test request
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "UP"))

	require.NoError(t, f.server.Stop(context.Background()))
	assert.False(t, f.server.IsRunning())
}
