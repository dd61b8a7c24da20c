package auth

import (
	"context"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/secrets"
)

// Token issuance defaults.
const (
	DefaultIssuer          = "keygate"
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 24 * time.Hour
	DefaultAccessScope     = "WATERMARK_ADD"
	DefaultRefreshScope    = "TOKEN_RENEW"
)

// TokenConfig configures issued tokens.
type TokenConfig struct {
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AccessScope     string
	RefreshScope    string
}

// GetIssuer returns the effective issuer.
func (c *TokenConfig) GetIssuer() string {
	if c == nil || c.Issuer == "" {
		return DefaultIssuer
	}
	return c.Issuer
}

// GetAccessTokenTTL returns the effective access token lifetime.
func (c *TokenConfig) GetAccessTokenTTL() time.Duration {
	if c == nil || c.AccessTokenTTL <= 0 {
		return DefaultAccessTokenTTL
	}
	return c.AccessTokenTTL
}

// GetRefreshTokenTTL returns the effective refresh token lifetime.
func (c *TokenConfig) GetRefreshTokenTTL() time.Duration {
	if c == nil || c.RefreshTokenTTL <= 0 {
		return DefaultRefreshTokenTTL
	}
	return c.RefreshTokenTTL
}

// GetAccessScope returns the effective access token scope.
func (c *TokenConfig) GetAccessScope() string {
	if c == nil || c.AccessScope == "" {
		return DefaultAccessScope
	}
	return c.AccessScope
}

// GetRefreshScope returns the effective refresh token scope.
func (c *TokenConfig) GetRefreshScope() string {
	if c == nil || c.RefreshScope == "" {
		return DefaultRefreshScope
	}
	return c.RefreshScope
}

// TokenPair is the result of a login or renewal.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenService issues tokens signed with the current key pair.
type TokenService struct {
	current   CurrentBundle
	signers   *jwt.SignerFactory
	resolver  *KeyResolver
	directory DirectoryAuthenticator
	config    *TokenConfig
	logger    observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithDirectory tries dir before the bundle credentials on login.
func WithDirectory(dir DirectoryAuthenticator) TokenServiceOption {
	return func(s *TokenService) {
		s.directory = dir
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger observability.Logger) TokenServiceOption {
	return func(s *TokenService) {
		s.logger = logger
	}
}

// WithTokenMetrics sets the metrics sink.
func WithTokenMetrics(metrics *observability.Metrics) TokenServiceOption {
	return func(s *TokenService) {
		s.metrics = metrics
	}
}

// NewTokenService creates a token service.
func NewTokenService(
	current CurrentBundle,
	signers *jwt.SignerFactory,
	resolver *KeyResolver,
	config *TokenConfig,
	opts ...TokenServiceOption,
) *TokenService {
	s := &TokenService{
		current:  current,
		signers:  signers,
		resolver: resolver,
		config:   config,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate checks username and password and issues an access and a
// refresh token bound to the current key version.
func (s *TokenService) Authenticate(ctx context.Context, username, password string) (*TokenPair, error) {
	bundle := s.current.GetCurrent(ctx)
	logger := s.logger.WithContext(ctx)

	if !s.checkDirectory(ctx, username, password) &&
		!CheckCredentials(bundle.Username, bundle.PasswordSecret, username, password) {
		logger.Warn("login rejected", observability.String("username", username))
		return nil, NewError(KindWrongCredentials, ErrWrongCredentials)
	}

	access, err := s.issue(bundle, username, jwt.TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := s.issue(bundle, username, jwt.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	logger.Info("tokens issued",
		observability.String("username", username),
		observability.Int("key_version", bundle.Version),
	)
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *TokenService) checkDirectory(ctx context.Context, username, password string) bool {
	if s.directory == nil {
		return false
	}
	if err := s.directory.Authenticate(ctx, username, password); err != nil {
		s.logger.WithContext(ctx).Debug("directory authentication failed", observability.Error(err))
		return false
	}
	return true
}

// Renew verifies a refresh token with the key of the version it names and
// issues a new access token under the current key. The refresh token is
// returned unchanged.
func (s *TokenService) Renew(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, claims, err := s.resolver.Verify(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, NewError(KindWrongTokenType, fmt.Errorf("expected %s token, got %q", jwt.TokenTypeRefresh, claims.TokenType))
	}

	bundle := s.current.GetCurrent(ctx)
	access, err := s.issue(bundle, claims.Subject, jwt.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Info("access token renewed",
		observability.String("username", claims.Subject),
		observability.Int("refresh_key_version", claims.RSAKeyVersion),
		observability.Int("key_version", bundle.Version),
	)
	return &TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}

func (s *TokenService) issue(bundle secrets.Bundle, subject, tokenType string) (string, error) {
	signer, err := s.signers.Get(bundle.PrivateKey)
	if err != nil {
		return "", NewError(KindKeyMaterialAbsent, err)
	}

	ttl, scope := s.config.GetAccessTokenTTL(), s.config.GetAccessScope()
	if tokenType == jwt.TokenTypeRefresh {
		ttl, scope = s.config.GetRefreshTokenTTL(), s.config.GetRefreshScope()
	}

	now := s.now()
	claims := &jwt.Claims{
		TokenType:     tokenType,
		RSAKeyVersion: bundle.Version,
		Scope:         scope,
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.config.GetIssuer(),
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := signer.Sign(claims)
	if err != nil {
		return "", err
	}
	s.metrics.RecordTokenIssued(tokenType)
	return token, nil
}
