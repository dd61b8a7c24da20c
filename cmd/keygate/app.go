package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/keygate/internal/audit"
	"github.com/vyrodovalexey/keygate/internal/auth"
	"github.com/vyrodovalexey/keygate/internal/auth/jwt"
	"github.com/vyrodovalexey/keygate/internal/cache"
	"github.com/vyrodovalexey/keygate/internal/circuitbreaker"
	"github.com/vyrodovalexey/keygate/internal/config"
	"github.com/vyrodovalexey/keygate/internal/health"
	"github.com/vyrodovalexey/keygate/internal/keys"
	"github.com/vyrodovalexey/keygate/internal/middleware"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/retry"
	"github.com/vyrodovalexey/keygate/internal/secrets"
	"github.com/vyrodovalexey/keygate/internal/server"
	"github.com/vyrodovalexey/keygate/internal/vault"
)

const vaultAuthTimeout = 30 * time.Second

var errNoPublicKey = errors.New("no public key available from the secret store")

// application holds every long-lived component.
type application struct {
	config  *config.ServiceConfig
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	vault   vault.Client
	secrets *secrets.Cache
	keys    *keys.Cache
	limiter *middleware.RateLimiter
	audit   audit.Logger
	server  *server.Server
}

func buildVaultConfig(c *config.VaultConfig) *vault.Config {
	cfg := vault.DefaultConfig()
	cfg.Enabled = c.Enabled
	cfg.Address = c.Address
	cfg.Namespace = c.Namespace
	cfg.AuthMethod = vault.AuthMethod(c.AuthMethod)
	cfg.Token = c.Token
	cfg.Path = c.Path
	if c.Mount != "" {
		cfg.Mount = c.Mount
	}
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout.Duration()
	}
	if c.CommandTimeout > 0 {
		cfg.CommandTimeout = c.CommandTimeout.Duration()
	}

	switch cfg.AuthMethod {
	case vault.AuthMethodAppRole:
		cfg.AppRole = &vault.AppRoleAuthConfig{
			RoleID:    c.AppRole.RoleID,
			SecretID:  c.AppRole.SecretID,
			MountPath: c.AppRole.MountPath,
		}
	case vault.AuthMethodKubernetes:
		cfg.Kubernetes = &vault.KubernetesAuthConfig{
			Role:      c.Kubernetes.Role,
			MountPath: c.Kubernetes.MountPath,
			TokenPath: c.Kubernetes.TokenPath,
		}
	}

	if c.TLS != (config.VaultTLSConfig{}) {
		cfg.TLS = &vault.TLSConfig{
			CACert:     c.TLS.CACert,
			CAPath:     c.TLS.CAPath,
			ClientCert: c.TLS.ClientCert,
			ClientKey:  c.TLS.ClientKey,
			SkipVerify: c.TLS.SkipVerify,
		}
	}

	cfg.Retry = &vault.RetryConfig{
		MaxRetries:  c.Retry.MaxRetries,
		BackoffBase: c.Retry.BackoffBase.Duration(),
		BackoffMax:  c.Retry.BackoffMax.Duration(),
	}

	breaker := circuitbreaker.DefaultConfig()
	breaker.Enabled = c.CircuitBreaker.Enabled
	if c.CircuitBreaker.Threshold > 0 {
		breaker.MaxFailures = c.CircuitBreaker.Threshold
	}
	if c.CircuitBreaker.Timeout > 0 {
		breaker.Timeout = c.CircuitBreaker.Timeout.Duration()
	}
	cfg.CircuitBreaker = breaker

	return cfg
}

func buildRedisConfig(c *config.RedisConfig) *cache.Config {
	return &cache.Config{
		Address:      c.Address,
		Password:     c.Password,
		DB:           c.DB,
		KeyPrefix:    c.KeyPrefix,
		DialTimeout:  c.DialTimeout.Duration(),
		ReadTimeout:  c.ReadTimeout.Duration(),
		WriteTimeout: c.WriteTimeout.Duration(),
		PoolSize:     c.PoolSize,
	}
}

func buildTokenConfig(c *config.JWTConfig) *auth.TokenConfig {
	return &auth.TokenConfig{
		Issuer:          c.Issuer,
		AccessTokenTTL:  c.AccessTokenTTL.Duration(),
		RefreshTokenTTL: c.RefreshTokenTTL.Duration(),
		AccessScope:     c.AccessScope,
		RefreshScope:    c.RefreshScope,
	}
}

// initVaultClient creates the client and authenticates with retries so a
// secret store that is still starting does not fail the process.
func initVaultClient(
	ctx context.Context,
	cfg *config.VaultConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) (vault.Client, error) {
	client, err := vault.New(buildVaultConfig(cfg), logger, vault.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if !client.IsEnabled() {
		logger.Warn("vault integration disabled")
		return client, nil
	}

	ctx, cancel := context.WithTimeout(ctx, vaultAuthTimeout)
	defer cancel()

	authRetry := &retry.Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
	err = retry.Do(ctx, authRetry, func() error {
		return client.Authenticate(ctx)
	}, &retry.Options{
		OnRetry: func(attempt int, retryErr error, backoff time.Duration) {
			logger.Warn("vault authentication failed, retrying",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(retryErr),
			)
		},
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to authenticate with vault: %w", err)
	}

	logger.Info("vault client initialized",
		observability.String("address", cfg.Address),
		observability.String("auth_method", cfg.AuthMethod),
	)
	return client, nil
}

// checkKeyMaterial refuses to start without a parseable current public key.
func checkKeyMaterial(bundle secrets.Bundle) error {
	if !bundle.HasPublicKey() {
		return auth.NewError(auth.KindKeyMaterialAbsent, errNoPublicKey)
	}
	if _, err := jwt.ParsePublicKey(bundle.PublicKey); err != nil {
		return auth.NewError(auth.KindKeyMaterialAbsent, err)
	}
	return nil
}

// buildApplication wires every component from cfg. The vault client is
// supplied by the caller so startup can be exercised without a server.
func buildApplication(
	ctx context.Context,
	cfg *config.ServiceConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
	vaultClient vault.Client,
) (*application, error) {
	secretCache := secrets.NewCache(vaultClient,
		secrets.WithLogger(logger),
		secrets.WithMetrics(metrics),
	)
	bundle := secretCache.GetCurrent(ctx)
	if err := checkKeyMaterial(bundle); err != nil {
		return nil, fmt.Errorf("startup aborted: %w", err)
	}
	logger.Info("credential bundle loaded", observability.Int("key_version", bundle.Version))

	keyOpts := []keys.Option{keys.WithLogger(logger), keys.WithMetrics(metrics)}
	var redisTier *cache.RedisCache
	if cfg.KeyCache.Shared.Enabled {
		var err error
		redisTier, err = cache.NewRedis(buildRedisConfig(&cfg.KeyCache.Shared.Redis), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key cache: %w", err)
		}
		keyOpts = append(keyOpts, keys.WithSharedTier(redisTier, cfg.KeyCache.Shared.TTL.Duration()))
	}
	keyCache := keys.New(secretCache, keyOpts...)

	verifierOpts := []jwt.VerifierOption{}
	if cfg.JWT.Issuer != "" {
		verifierOpts = append(verifierOpts, jwt.WithIssuer(cfg.JWT.Issuer))
	}
	if cfg.JWT.Leeway > 0 {
		verifierOpts = append(verifierOpts, jwt.WithLeeway(cfg.JWT.Leeway.Duration()))
	}

	resolver := auth.NewKeyResolver(keyCache, secretCache, jwt.NewVerifierFactory(verifierOpts...),
		auth.WithStrictVersion(cfg.JWT.StrictVersion),
		auth.WithResolverLogger(logger),
	)
	gate := auth.NewGate(resolver,
		auth.WithBypassPaths(cfg.Auth.GetBypassPaths()...),
		auth.WithGateLogger(logger),
		auth.WithGateMetrics(metrics),
	)
	tokens := auth.NewTokenService(secretCache, jwt.NewSignerFactory(), resolver, buildTokenConfig(&cfg.JWT),
		auth.WithTokenLogger(logger),
		auth.WithTokenMetrics(metrics),
	)

	checks := health.NewHandler(version,
		health.WithLogger(logger),
		health.WithMetrics(health.NewMetrics(observability.DefaultNamespace, metrics.Registry())),
	)
	checks.AddCheck(health.SecretsCheck(secretCache))
	checks.AddCheck(health.VaultCheck(vaultClient))
	if redisTier != nil {
		checks.AddCheck(health.RedisCheck(redisTier))
	}

	auditLogger, err := audit.NewLogger(&cfg.Audit,
		audit.WithLogger(logger),
		audit.WithMetrics(audit.NewMetrics(observability.DefaultNamespace, metrics.Registry())),
	)
	if err != nil {
		_ = keyCache.Close()
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}

	limiter := middleware.NewRateLimiter(
		cfg.Auth.LoginRateLimit.RPS,
		cfg.Auth.LoginRateLimit.Burst,
		middleware.WithRateLimiterLogger(logger),
		middleware.WithClientIPExtractor(middleware.NewClientIPExtractor(cfg.Auth.TrustedProxies)),
	)
	limiter.StartCleanup()

	opts := []server.Option{
		server.WithAddress(cfg.Server.Address),
		server.WithTimeouts(cfg.Server.ReadTimeout.Duration(), cfg.Server.WriteTimeout.Duration()),
		server.WithShutdownTimeout(cfg.Server.GetShutdownTimeout()),
		server.WithLogger(logger),
		server.WithTracer(tracer),
		server.WithHealth(checks),
		server.WithTokenIssuer(tokens),
		server.WithLoginRateLimiter(limiter),
		server.WithAuditLogger(auditLogger),
		server.WithKeySet(keyCache, secretCache),
	}
	if h := cfg.Server.SecurityHeaders; h.Enabled {
		opts = append(opts, server.WithSecurityHeaders(middleware.SecurityHeadersConfig{
			HSTSMaxAge:        h.HSTSMaxAge,
			IncludeSubDomains: h.IncludeSubDomains,
			Custom:            h.Custom,
		}))
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics, cfg.Observability.Metrics.GetMetricsPath()))
	}

	srv, err := server.New(gate, opts...)
	if err != nil {
		limiter.Stop()
		_ = auditLogger.Close()
		_ = keyCache.Close()
		return nil, err
	}

	return &application{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		vault:   vaultClient,
		secrets: secretCache,
		keys:    keyCache,
		limiter: limiter,
		audit:   auditLogger,
		server:  srv,
	}, nil
}

// shutdown stops components in reverse dependency order.
func (a *application) shutdown(ctx context.Context) {
	if err := a.server.Stop(ctx); err != nil && !errors.Is(err, server.ErrNotRunning) {
		a.logger.Error("failed to stop http server gracefully", observability.Error(err))
	}
	a.limiter.Stop()

	if err := a.audit.Close(); err != nil {
		a.logger.Error("failed to close audit log", observability.Error(err))
	}

	if err := a.keys.Close(); err != nil {
		a.logger.Error("failed to close key cache", observability.Error(err))
	}
	if err := a.vault.Close(); err != nil {
		a.logger.Error("failed to close vault client", observability.Error(err))
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
