package vault

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.opentelemetry.io/otel"

	"github.com/vyrodovalexey/keygate/internal/circuitbreaker"
	"github.com/vyrodovalexey/keygate/internal/observability"
	"github.com/vyrodovalexey/keygate/internal/retry"
)

const (
	DefaultTokenRenewalTimeout = 10 * time.Second
	DefaultCloseTimeout        = 5 * time.Second
	MinRenewalInterval         = time.Minute
)

var tracer = otel.Tracer("keygate/vault")

// Client reads the signing key bundle from Vault.
type Client interface {
	IsEnabled() bool
	// Authenticate logs in and starts background token renewal.
	Authenticate(ctx context.Context) error
	Health(ctx context.Context) (*HealthStatus, error)
	// GetCurrentCredentials reads the latest version of the key bundle.
	GetCurrentCredentials(ctx context.Context) (*Credentials, error)
	// GetKeyForVersion reads the public key of one historical bundle version.
	GetKeyForVersion(ctx context.Context, version int) (string, error)
	Close() error
}

// HealthStatus is the answer of sys/health.
type HealthStatus struct {
	Initialized bool
	Sealed      bool
	Standby     bool
	Version     string
}

type vaultClient struct {
	config  *Config
	api     *vaultapi.Client
	login   loginFunc
	logger  observability.Logger
	metrics *observability.Metrics
	breaker *circuitbreaker.Breaker
	retry   *retry.Config

	// ttl is the token lease in seconds; expiry is a unix time, zero for a
	// token that never expires.
	ttl    atomic.Int64
	expiry atomic.Int64

	renewOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	stop      context.CancelFunc
	stopCtx   context.Context
	renewDone chan struct{}
}

// ClientOption configures the client built by New.
type ClientOption func(*vaultClient)

// WithMetrics records every Vault call on metrics.
func WithMetrics(metrics *observability.Metrics) ClientOption {
	return func(c *vaultClient) { c.metrics = metrics }
}

// New validates cfg and builds a client. A disabled cfg yields a client
// whose calls fail with ErrVaultDisabled.
func New(cfg *Config, logger observability.Logger, opts ...ClientOption) (Client, error) {
	if cfg == nil {
		return nil, NewConfigurationError("", "configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return disabledClient{}, nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	login, err := loginFor(cfg)
	if err != nil {
		return nil, err
	}
	api, err := newAPIClient(cfg)
	if err != nil {
		return nil, err
	}

	stopCtx, stop := context.WithCancel(context.Background())
	c := &vaultClient{
		config:    cfg,
		api:       api,
		login:     login,
		logger:    logger.With(observability.String("component", "vault")),
		retry:     cfg.Retry.toRetryConfig(),
		stopCtx:   stopCtx,
		stop:      stop,
		renewDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// A Vault that answered, even with 404 or 403, is reachable and must not
	// trip the breaker.
	var bc *circuitbreaker.Config
	if cfg.CircuitBreaker != nil {
		copied := *cfg.CircuitBreaker
		copied.IsSuccessful = func(err error) bool { return err == nil || !IsRetryable(err) }
		bc = &copied
	}
	c.breaker = circuitbreaker.New("vault", bc,
		circuitbreaker.WithLogger(c.logger),
		circuitbreaker.WithMetrics(c.metrics),
	)
	return c, nil
}

// newAPIClient builds the vault/api client. Its own retries are off since
// internal/retry runs inside the breaker. The token is never taken from the
// environment implicitly.
func newAPIClient(cfg *Config) (*vaultapi.Client, error) {
	ac := vaultapi.DefaultConfig()
	ac.Address = cfg.Address
	ac.Timeout = cfg.GetCommandTimeout()
	ac.MaxRetries = 0

	if tr, ok := ac.HttpClient.Transport.(*http.Transport); ok {
		connect := cfg.GetConnectTimeout()
		tr.DialContext = (&net.Dialer{Timeout: connect}).DialContext
		tr.TLSHandshakeTimeout = 2 * connect
	}

	if t := cfg.TLS; t != nil {
		err := ac.ConfigureTLS(&vaultapi.TLSConfig{
			CACert:     t.CACert,
			CAPath:     t.CAPath,
			ClientCert: t.ClientCert,
			ClientKey:  t.ClientKey,
			Insecure:   t.SkipVerify,
		})
		if err != nil {
			return nil, NewConfigurationErrorWithCause("tls", "failed to configure TLS", err)
		}
	}

	api, err := vaultapi.NewClient(ac)
	if err != nil {
		return nil, NewVaultError("init", "", err)
	}
	api.ClearToken()
	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}
	return api, nil
}

func (c *vaultClient) IsEnabled() bool { return true }

func (c *vaultClient) checkOpen() error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return nil
}

// record publishes the outcome of op started at began.
func (c *vaultClient) record(op string, began time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordVaultRequest(op, status, time.Since(began))
}

func (c *vaultClient) Authenticate(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	began := time.Now()
	err := c.authenticate(ctx)
	c.record("authenticate", began, err)
	if err != nil {
		return err
	}
	c.logger.Info("authenticated with vault",
		observability.String("method", c.config.AuthMethod.String()),
		observability.Duration("duration", time.Since(began)),
	)

	c.renewOnce.Do(func() {
		go c.renewLoop() //nolint:contextcheck // tied to the client lifetime
	})
	return nil
}

func (c *vaultClient) authenticate(ctx context.Context) error {
	secret, err := c.login(ctx, c.api)
	if err != nil {
		return classify("authenticate", "", err)
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return NewVaultError("authenticate", "", ErrAuthenticationFailed)
	}
	c.api.SetToken(secret.Auth.ClientToken)
	c.setLease(secret.Auth.LeaseDuration)
	return nil
}

func (c *vaultClient) setLease(seconds int) {
	c.ttl.Store(int64(seconds))
	var expiry int64
	if seconds > 0 {
		expiry = time.Now().Add(time.Duration(seconds) * time.Second).Unix()
	}
	c.expiry.Store(expiry)
}

func (c *vaultClient) Health(ctx context.Context) (*HealthStatus, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.GetCommandTimeout())
	defer cancel()

	began := time.Now()
	resp, err := c.api.Sys().HealthWithContext(ctx)
	c.record("health", began, err)
	if err != nil {
		return nil, classify("health", "", err)
	}
	return &HealthStatus{
		Initialized: resp.Initialized,
		Sealed:      resp.Sealed,
		Standby:     resp.Standby,
		Version:     resp.Version,
	}, nil
}

// Close stops token renewal. It is idempotent.
func (c *vaultClient) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.stop()

		started := true
		c.renewOnce.Do(func() { started = false })
		if started {
			select {
			case <-c.renewDone:
			case <-time.After(DefaultCloseTimeout):
				c.logger.Warn("timeout waiting for token renewal to stop")
			}
		}
		c.logger.Info("vault client closed")
	})
	return nil
}

// renewLoop renews the token at two thirds of its lease. Once renewal is
// refused or the token has expired it logs in again.
func (c *vaultClient) renewLoop() {
	defer close(c.renewDone)

	for {
		wait := c.renewalInterval()
		if wait <= 0 {
			c.logger.Debug("token has no lease, renewal disabled")
			<-c.stopCtx.Done()
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-c.stopCtx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		c.refreshToken()
	}
}

func (c *vaultClient) refreshToken() {
	ctx, cancel := context.WithTimeout(c.stopCtx, DefaultTokenRenewalTimeout)
	defer cancel()

	began := time.Now()
	secret, err := c.api.Auth().Token().RenewSelfWithContext(ctx, 0)
	c.record("renew_token", began, err)
	if err == nil {
		if secret != nil && secret.Auth != nil {
			c.setLease(secret.Auth.LeaseDuration)
		}
		c.logger.Debug("token renewed", observability.Int64("ttl_seconds", c.ttl.Load()))
		return
	}

	err = classify("renew_token", "", err)
	c.logger.Warn("failed to renew vault token", observability.Error(err))
	if !c.tokenExpired() && !IsAuthError(err) {
		return
	}
	if err := c.authenticate(ctx); err != nil {
		c.logger.Error("failed to re-authenticate with vault", observability.Error(err))
	}
}

func (c *vaultClient) renewalInterval() time.Duration {
	ttl := c.ttl.Load()
	if ttl <= 0 {
		return 0
	}
	return max(time.Duration(ttl*2/3)*time.Second, MinRenewalInterval)
}

func (c *vaultClient) tokenExpired() bool {
	expiry := c.expiry.Load()
	return expiry != 0 && time.Now().Unix() >= expiry
}

// disabledClient answers every call with ErrVaultDisabled.
type disabledClient struct{}

func (disabledClient) IsEnabled() bool                    { return false }
func (disabledClient) Authenticate(context.Context) error { return ErrVaultDisabled }
func (disabledClient) Close() error                       { return nil }

func (disabledClient) Health(context.Context) (*HealthStatus, error) {
	return nil, ErrVaultDisabled
}

func (disabledClient) GetCurrentCredentials(context.Context) (*Credentials, error) {
	return nil, ErrVaultDisabled
}

func (disabledClient) GetKeyForVersion(context.Context, int) (string, error) {
	return "", ErrVaultDisabled
}

var (
	_ Client = (*vaultClient)(nil)
	_ Client = disabledClient{}
)
