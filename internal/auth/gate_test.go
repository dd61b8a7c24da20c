package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/keys"
	"github.com/vyrodovalexey/keygate/internal/middleware"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/secrets"
	"github.com/vyrodovalexey/keygate/internal/vault"
)

const testIssuer = "keygate-test"

type keyPair struct {
	privatePEM string
	publicPEM  string
}

var (
	keyPairsOnce sync.Once
	keyPairs     map[int]keyPair
)

// testKeyPairs returns RSA key pairs for versions 1 to 3 plus an unrelated
// pair under version 0.
func testKeyPairs(t *testing.T) map[int]keyPair {
	t.Helper()

	keyPairsOnce.Do(func() {
		keyPairs = make(map[int]keyPair)
		for v := 0; v <= 3; v++ {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			privDER, err := x509.MarshalPKCS8PrivateKey(key)
			if err != nil {
				panic(err)
			}
			pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
			if err != nil {
				panic(err)
			}
			keyPairs[v] = keyPair{
				privatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
				publicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
			}
		}
	})
	return keyPairs
}

// fakeStore serves a versioned key bundle and counts every call.
type fakeStore struct {
	mu       sync.Mutex
	pairs    map[int]keyPair
	current  int
	password string
	down     bool

	calls atomic.Int32
}

func (s *fakeStore) GetCurrentCredentials(_ context.Context) (*vault.Credentials, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, vault.ErrConnectionFailed
	}
	if s.current == 0 {
		return nil, vault.ErrSecretNotFound
	}
	kp := s.pairs[s.current]
	return &vault.Credentials{
		PrivateKey:     kp.privatePEM,
		PublicKey:      kp.publicPEM,
		Version:        s.current,
		Username:       "watermark",
		PasswordSecret: s.password,
	}, nil
}

func (s *fakeStore) GetKeyForVersion(_ context.Context, version int) (string, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return "", vault.ErrConnectionFailed
	}
	kp, ok := s.pairs[version]
	if !ok || version == 0 || version > s.current {
		return "", vault.ErrSecretNotFound
	}
	return kp.publicPEM, nil
}

func (s *fakeStore) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *fakeStore) rotate(version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = version
}

// publish makes kp the current bundle under version.
func (s *fakeStore) publish(version int, kp keyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[version] = kp
	s.current = version
}

type fixture struct {
	pairs     map[int]keyPair
	store     *fakeStore
	secrets   *secrets.Cache
	keys      *keys.Cache
	verifiers *jwt.VerifierFactory
	resolver  *KeyResolver
	gate      *Gate
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, current int, strict bool) *fixture {
	t.Helper()

	pairs := testKeyPairs(t)
	core, logs := observer.New(zap.DebugLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))

	store := &fakeStore{pairs: maps.Clone(pairs), current: current, password: "s3cret"}
	sc := secrets.NewCache(store, secrets.WithLogger(logger))
	sc.GetCurrent(context.Background())

	kc := keys.New(sc, keys.WithLogger(logger))
	verifiers := jwt.NewVerifierFactory(jwt.WithIssuer(testIssuer))
	resolver := NewKeyResolver(kc, sc, verifiers, WithStrictVersion(strict), WithResolverLogger(logger))

	return &fixture{
		pairs:     pairs,
		store:     store,
		secrets:   sc,
		keys:      kc,
		verifiers: verifiers,
		resolver:  resolver,
		gate:      NewGate(resolver, WithGateLogger(logger)),
		logs:      logs,
	}
}

// sign issues a token signed with signingVersion's private key that names
// claimedVersion in its rsa_key_version claim.
func (f *fixture) sign(t *testing.T, signingVersion, claimedVersion int, tokenType string, exp time.Time) string {
	t.Helper()

	signer, err := jwt.NewSigner(f.pairs[signingVersion].privatePEM)
	require.NoError(t, err)
	token, err := signer.Sign(&jwt.Claims{
		TokenType:     tokenType,
		RSAKeyVersion: claimedVersion,
		Scope:         DefaultAccessScope,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   "watermark",
			Issuer:    testIssuer,
			IssuedAt:  gojwt.NewNumericDate(time.Now()),
			ExpiresAt: gojwt.NewNumericDate(exp),
		},
	})
	require.NoError(t, err)
	return token
}

type gateResult struct {
	status   int
	body     errorBody
	reached  bool
	identity *Identity
}

func (f *fixture) do(t *testing.T, path, authorization string) gateResult {
	t.Helper()

	var res gateResult
	handler := f.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.reached = true
		res.identity, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	res.status = rec.Code
	if rec.Code != http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.body))
	}
	return res
}

func TestGate_ValidAccessToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	token := f.sign(t, 3, 3, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

	res := f.do(t, "/api/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusOK, res.status)
	require.True(t, res.reached)
	require.NotNil(t, res.identity)
	assert.Equal(t, "watermark", res.identity.Subject)
	assert.Equal(t, 3, res.identity.KeyVersion)
	assert.Equal(t, jwt.TokenTypeAccess, res.identity.TokenType)
}

func TestGate_Rejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		token    string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "refresh token",
			token:    f.sign(t, 3, 3, jwt.TokenTypeRefresh, future),
			wantCode: CodeInvalidToken,
			wantMsg:  "Invalid or missing token.",
		},
		{
			name:     "expired token",
			token:    f.sign(t, 2, 2, jwt.TokenTypeAccess, time.Now().Add(-time.Minute)),
			wantCode: CodeTokenExpired,
			wantMsg:  "Token has expired",
		},
		{
			name:     "malformed token",
			token:    "not-a-token",
			wantCode: CodeInvalidToken,
			wantMsg:  "Invalid or missing token.",
		},
		{
			name:     "signed by a foreign key",
			token:    f.sign(t, 0, 2, jwt.TokenTypeAccess, future),
			wantCode: CodeInvalidToken,
			wantMsg:  "Invalid or missing token.",
		},
		{
			name:     "version 3 claimed but signed with version 2",
			token:    f.sign(t, 2, 3, jwt.TokenTypeAccess, future),
			wantCode: CodeInvalidToken,
			wantMsg:  "Invalid or missing token.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := f.do(t, "/api/whoami", "Bearer "+tt.token)
			assert.Equal(t, http.StatusUnauthorized, res.status)
			assert.False(t, res.reached)
			assert.Equal(t, tt.wantCode, res.body.Code)
			assert.Equal(t, tt.wantMsg, res.body.Error)
		})
	}
}

func TestGate_RotationVerifiesWithNamedVersion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	token := f.sign(t, 2, 2, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

	res := f.do(t, "/api/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusOK, res.status)
	require.NotNil(t, res.identity)
	assert.Equal(t, 2, res.identity.KeyVersion)

	cached, ok := f.keys.Get(2)
	require.True(t, ok)
	assert.Equal(t, f.pairs[2].publicPEM, cached)
	assert.Equal(t, 3, f.secrets.Snapshot().Version)
}

func TestGate_MalformedTokenMakesNoStoreCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	before := f.store.calls.Load()

	res := f.do(t, "/api/whoami", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, before, f.store.calls.Load())
}

func TestGate_OutageServesStaleKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	stale := f.secrets.Snapshot()
	f.store.setDown(true)

	assert.Equal(t, stale, f.secrets.GetCurrent(context.Background()))

	current := f.sign(t, 3, 3, jwt.TokenTypeAccess, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusOK, f.do(t, "/api/whoami", "Bearer "+current).status)

	unversioned := f.sign(t, 3, 0, jwt.TokenTypeAccess, time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusOK, f.do(t, "/api/whoami", "Bearer "+unversioned).status)
}

func TestGate_UnresolvableVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		strict     bool
		wantStatus int
	}{
		{"degrades to current key", false, http.StatusOK},
		{"strict rejects", true, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, 3, tt.strict)
			token := f.sign(t, 3, 9, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

			res := f.do(t, "/api/whoami", "Bearer "+token)
			assert.Equal(t, tt.wantStatus, res.status)
			if tt.strict {
				assert.Equal(t, CodeInvalidToken, res.body.Code)
			}

			_, cached := f.keys.Get(9)
			assert.False(t, cached)
		})
	}
}

func TestGate_UnresolvableVersionNeverMatchesOtherKey(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	token := f.sign(t, 2, 9, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

	res := f.do(t, "/api/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestGate_PassThrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)

	bypass := f.do(t, "/actuator/health", "Bearer not-a-token")
	assert.Equal(t, http.StatusOK, bypass.status)
	assert.True(t, bypass.reached)
	assert.Nil(t, bypass.identity)

	anonymous := f.do(t, "/api/whoami", "")
	assert.Equal(t, http.StatusOK, anonymous.status)
	assert.True(t, anonymous.reached)
	assert.Nil(t, anonymous.identity)

	basic := f.do(t, "/api/whoami", "Basic d2F0ZXJtYXJrOnMzY3JldA==")
	assert.True(t, basic.reached)
	assert.Nil(t, basic.identity)
}

func TestGate_NoKeyMaterial(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0, false)
	token := f.sign(t, 3, 0, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

	res := f.do(t, "/api/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, CodeInvalidToken, res.body.Code)
	assert.False(t, res.reached)
}

func TestGate_UnusableRotatedKeyRejectsToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	token := f.sign(t, 3, 0, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

	f.store.publish(4, keyPair{privatePEM: f.pairs[3].privatePEM, publicPEM: "not-a-key"})
	require.Equal(t, 4, f.secrets.GetCurrent(context.Background()).Version)

	res := f.do(t, "/api/whoami", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, CodeInvalidToken, res.body.Code)
	assert.False(t, res.reached)
}

func TestGate_AccessLogOmitsKeyMaterial(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	token := f.sign(t, 2, 2, jwt.TokenTypeAccess, time.Now().Add(time.Hour))
	f.do(t, "/api/whoami", "Bearer "+token)
	f.do(t, "/api/whoami", "Bearer not-a-token")

	completed := f.logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	assert.Equal(t, "/api/whoami", fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
	assert.EqualValues(t, 2, fields["key_version"])
	assert.NotEmpty(t, fields["correlation_id"])

	rejected := f.logs.FilterMessage("authentication rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, KindMalformedToken.String(), rejected[0].ContextMap()["error_kind"])

	for _, entry := range f.logs.All() {
		for _, v := range entry.ContextMap() {
			s, ok := v.(string)
			if !ok {
				continue
			}
			assert.NotContains(t, s, "PRIVATE KEY")
			assert.NotContains(t, s, "s3cret")
			assert.NotContains(t, s, token)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			assert.Equal(t, tt.want, ExtractBearerToken(req))
		})
	}
}

func TestGate_CorrelationIDIgnoresClientRequestID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3, false)
	token := f.sign(t, 3, 3, jwt.TokenTypeAccess, time.Now().Add(time.Hour))

	var seen []string
	handler := middleware.RequestID()(f.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client-chosen", observability.RequestIDFromContext(r.Context()))
		seen = append(seen, observability.CorrelationIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(middleware.HeaderXRequestID, "client-chosen")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		for name, values := range rec.Header() {
			for _, v := range values {
				assert.NotContains(t, v, seen[i], "header %s", name)
			}
		}
	}

	require.Len(t, seen, 2)
	for _, id := range seen {
		assert.NotEqual(t, "client-chosen", id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, seen[0], seen[1])

	completed := f.logs.FilterMessage("request completed").All()
	require.Len(t, completed, 2)
	assert.Equal(t, seen[0], completed[0].ContextMap()["correlation_id"])
	assert.Equal(t, "client-chosen", completed[0].ContextMap()["request_id"])
}
