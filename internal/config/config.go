package config

import (
	"time"

	"github.com/vyrodovalexey/keygate/internal/audit"
)

// Default values.
const (
	DefaultServerAddress   = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultHSTSMaxAge      = 31536000

	DefaultVaultMount          = "secret"
	DefaultVaultAuthMethod     = "token"
	DefaultVaultConnectTimeout = 100 * time.Millisecond
	DefaultVaultCommandTimeout = 200 * time.Millisecond
	DefaultVaultMaxRetries     = 2
	DefaultVaultBackoffBase    = 20 * time.Millisecond
	DefaultVaultBackoffMax     = 500 * time.Millisecond
	DefaultBreakerThreshold    = 5
	DefaultBreakerTimeout      = 10 * time.Second

	DefaultIssuer          = "keygate"
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 24 * time.Hour
	DefaultAccessScope     = "WATERMARK_ADD"
	DefaultRefreshScope    = "TOKEN_RENEW"

	DefaultSharedCacheTTL    = 24 * time.Hour
	DefaultRedisKeyPrefix    = "keygate:"
	DefaultRedisDialTimeout  = 100 * time.Millisecond
	DefaultRedisReadTimeout  = 200 * time.Millisecond
	DefaultRedisWriteTimeout = 200 * time.Millisecond

	DefaultLoginRateLimitRPS   = 5
	DefaultLoginRateLimitBurst = 10

	DefaultBypassPath   = "/actuator"
	DefaultMetricsPath  = "/actuator/prometheus"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultServiceName  = "keygate"
	DefaultSamplingRate = 1.0
)

// ServiceConfig is the root of the configuration file.
type ServiceConfig struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Vault         VaultConfig         `yaml:"vault" json:"vault"`
	JWT           JWTConfig           `yaml:"jwt" json:"jwt"`
	KeyCache      KeyCacheConfig      `yaml:"keyCache" json:"keyCache"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Audit         audit.Config        `yaml:"audit" json:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string                `yaml:"address" json:"address"`
	ReadTimeout     Duration              `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration              `yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout Duration              `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	SecurityHeaders SecurityHeadersConfig `yaml:"securityHeaders" json:"securityHeaders"`
}

// SecurityHeadersConfig configures the hardening response headers.
type SecurityHeadersConfig struct {
	Enabled           bool              `yaml:"enabled" json:"enabled"`
	HSTSMaxAge        int               `yaml:"hstsMaxAge" json:"hstsMaxAge"`
	IncludeSubDomains bool              `yaml:"includeSubDomains" json:"includeSubDomains"`
	Custom            map[string]string `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// VaultConfig configures the secret store holding the key bundle.
type VaultConfig struct {
	Enabled    bool             `yaml:"enabled" json:"enabled"`
	Address    string           `yaml:"address" json:"address"`
	Namespace  string           `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	AuthMethod string           `yaml:"authMethod" json:"authMethod"`
	Token      string           `yaml:"token,omitempty" json:"-"`
	AppRole    AppRoleConfig    `yaml:"appRole" json:"appRole"`
	Kubernetes KubernetesConfig `yaml:"kubernetes" json:"kubernetes"`
	TLS        VaultTLSConfig   `yaml:"tls" json:"tls"`

	// Mount is the KV v2 mount and Path the key bundle secret below it.
	Mount string `yaml:"mount" json:"mount"`
	Path  string `yaml:"path" json:"path"`

	ConnectTimeout Duration             `yaml:"connectTimeout" json:"connectTimeout"`
	CommandTimeout Duration             `yaml:"commandTimeout" json:"commandTimeout"`
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// AppRoleConfig holds AppRole credentials.
type AppRoleConfig struct {
	RoleID    string `yaml:"roleId" json:"roleId"`
	SecretID  string `yaml:"secretId" json:"-"`
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
}

// KubernetesConfig holds Kubernetes auth settings.
type KubernetesConfig struct {
	Role      string `yaml:"role" json:"role"`
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
	TokenPath string `yaml:"tokenPath,omitempty" json:"tokenPath,omitempty"`
}

// VaultTLSConfig configures TLS towards Vault.
type VaultTLSConfig struct {
	CACert     string `yaml:"caCert,omitempty" json:"caCert,omitempty"`
	CAPath     string `yaml:"caPath,omitempty" json:"caPath,omitempty"`
	ClientCert string `yaml:"clientCert,omitempty" json:"clientCert,omitempty"`
	ClientKey  string `yaml:"clientKey,omitempty" json:"clientKey,omitempty"`
	SkipVerify bool   `yaml:"skipVerify,omitempty" json:"skipVerify,omitempty"`
}

// RetryConfig configures retries of secret store reads.
type RetryConfig struct {
	MaxRetries  int      `yaml:"maxRetries" json:"maxRetries"`
	BackoffBase Duration `yaml:"backoffBase" json:"backoffBase"`
	BackoffMax  Duration `yaml:"backoffMax" json:"backoffMax"`
}

// CircuitBreakerConfig configures the breaker around secret store calls.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Threshold int      `yaml:"threshold" json:"threshold"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// JWTConfig configures token verification and issuance.
type JWTConfig struct {
	Issuer          string   `yaml:"issuer" json:"issuer"`
	AccessTokenTTL  Duration `yaml:"accessTokenTTL" json:"accessTokenTTL"`
	RefreshTokenTTL Duration `yaml:"refreshTokenTTL" json:"refreshTokenTTL"`
	Leeway          Duration `yaml:"leeway" json:"leeway"`

	// StrictVersion rejects tokens whose named key version cannot be
	// fetched instead of verifying them against the current key.
	StrictVersion bool `yaml:"strictVersion" json:"strictVersion"`

	AccessScope  string `yaml:"accessScope" json:"accessScope"`
	RefreshScope string `yaml:"refreshScope" json:"refreshScope"`
}

// KeyCacheConfig configures the per-version public key cache.
type KeyCacheConfig struct {
	Shared SharedCacheConfig `yaml:"shared" json:"shared"`
}

// SharedCacheConfig configures the optional Redis tier.
type SharedCacheConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	TTL     Duration    `yaml:"ttl" json:"ttl"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Address      string   `yaml:"address" json:"address"`
	Password     string   `yaml:"password,omitempty" json:"-"`
	DB           int      `yaml:"db" json:"db"`
	KeyPrefix    string   `yaml:"keyPrefix" json:"keyPrefix"`
	DialTimeout  Duration `yaml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout" json:"writeTimeout"`
	PoolSize     int      `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`
}

// AuthConfig configures the authentication gate and login endpoint.
type AuthConfig struct {
	BypassPaths    []string        `yaml:"bypassPaths" json:"bypassPaths"`
	TrustedProxies []string        `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
	LoginRateLimit RateLimitConfig `yaml:"loginRateLimit" json:"loginRateLimit"`
}

// RateLimitConfig is a token bucket.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// ObservabilityConfig groups logging, tracing and metrics.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Server: ServerConfig{
			Address:         DefaultServerAddress,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			SecurityHeaders: SecurityHeadersConfig{
				Enabled:    true,
				HSTSMaxAge: DefaultHSTSMaxAge,
			},
		},
		Vault: VaultConfig{
			AuthMethod:     DefaultVaultAuthMethod,
			Mount:          DefaultVaultMount,
			ConnectTimeout: Duration(DefaultVaultConnectTimeout),
			CommandTimeout: Duration(DefaultVaultCommandTimeout),
			Retry: RetryConfig{
				MaxRetries:  DefaultVaultMaxRetries,
				BackoffBase: Duration(DefaultVaultBackoffBase),
				BackoffMax:  Duration(DefaultVaultBackoffMax),
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:   true,
				Threshold: DefaultBreakerThreshold,
				Timeout:   Duration(DefaultBreakerTimeout),
			},
		},
		JWT: JWTConfig{
			Issuer:          DefaultIssuer,
			AccessTokenTTL:  Duration(DefaultAccessTokenTTL),
			RefreshTokenTTL: Duration(DefaultRefreshTokenTTL),
			AccessScope:     DefaultAccessScope,
			RefreshScope:    DefaultRefreshScope,
		},
		KeyCache: KeyCacheConfig{
			Shared: SharedCacheConfig{
				TTL: Duration(DefaultSharedCacheTTL),
				Redis: RedisConfig{
					KeyPrefix:    DefaultRedisKeyPrefix,
					DialTimeout:  Duration(DefaultRedisDialTimeout),
					ReadTimeout:  Duration(DefaultRedisReadTimeout),
					WriteTimeout: Duration(DefaultRedisWriteTimeout),
				},
			},
		},
		Auth: AuthConfig{
			BypassPaths: []string{DefaultBypassPath},
			LoginRateLimit: RateLimitConfig{
				RPS:   DefaultLoginRateLimitRPS,
				Burst: DefaultLoginRateLimitBurst,
			},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  DefaultLogLevel,
				Format: DefaultLogFormat,
			},
			Tracing: TracingConfig{
				SamplingRate: DefaultSamplingRate,
				ServiceName:  DefaultServiceName,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
		},
		Audit: *audit.DefaultConfig(),
	}
}

// GetMetricsPath returns the metrics path or its default.
func (c *MetricsConfig) GetMetricsPath() string {
	if c == nil || c.Path == "" {
		return DefaultMetricsPath
	}
	return c.Path
}

// GetBypassPaths returns the configured bypass prefixes or the default.
func (c *AuthConfig) GetBypassPaths() []string {
	if c == nil || len(c.BypassPaths) == 0 {
		return []string{DefaultBypassPath}
	}
	return c.BypassPaths
}

// GetShutdownTimeout returns the drain timeout or its default.
func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	if c == nil || c.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return c.ShutdownTimeout.Duration()
}
