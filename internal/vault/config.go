package vault

import (
	"time"

	"github.com/vyrodovalexey/keygate/internal/circuitbreaker"
	"github.com/vyrodovalexey/keygate/internal/retry"
)

// AuthMethod names a Vault login method.
type AuthMethod string

const (
	AuthMethodToken      AuthMethod = "token"
	AuthMethodKubernetes AuthMethod = "kubernetes"
	AuthMethodAppRole    AuthMethod = "approle"
)

const (
	DefaultMount          = "secret"
	DefaultConnectTimeout = 100 * time.Millisecond
	DefaultCommandTimeout = 200 * time.Millisecond

	DefaultKubernetesMountPath = "kubernetes"
	DefaultAppRoleMountPath    = "approle"

	//nolint:gosec // G101: a file path
	DefaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

func (m AuthMethod) String() string { return string(m) }

// IsValid reports whether m is one of the supported methods.
func (m AuthMethod) IsValid() bool {
	return m == AuthMethodToken || m == AuthMethodKubernetes || m == AuthMethodAppRole
}

// Config locates the key bundle secret and says how to reach and log in to
// Vault.
type Config struct {
	Enabled    bool
	Address    string
	Namespace  string
	AuthMethod AuthMethod
	Token      string
	Kubernetes *KubernetesAuthConfig
	AppRole    *AppRoleAuthConfig
	TLS        *TLSConfig

	// Mount is the KV v2 mount and Path the bundle path below it.
	Mount string
	Path  string

	ConnectTimeout time.Duration
	// CommandTimeout bounds one request. Each retry gets a fresh budget.
	CommandTimeout time.Duration

	Retry          *RetryConfig
	CircuitBreaker *circuitbreaker.Config
}

type KubernetesAuthConfig struct {
	Role      string
	MountPath string
	TokenPath string
}

type AppRoleAuthConfig struct {
	RoleID    string
	SecretID  string
	MountPath string
}

type TLSConfig struct {
	CACert     string
	CAPath     string
	ClientCert string
	ClientKey  string
	SkipVerify bool
}

// RetryConfig bounds the retries of one bundle read.
type RetryConfig struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns a disabled token-auth config with request-path
// timeouts.
func DefaultConfig() *Config {
	return &Config{
		AuthMethod:     AuthMethodToken,
		Mount:          DefaultMount,
		ConnectTimeout: DefaultConnectTimeout,
		CommandTimeout: DefaultCommandTimeout,
		Retry: &RetryConfig{
			MaxRetries:  retry.DefaultMaxRetries,
			BackoffBase: retry.DefaultInitialBackoff,
			BackoffMax:  retry.DefaultMaxBackoff,
		},
		CircuitBreaker: circuitbreaker.DefaultConfig(),
	}
}

// rule is one validation check: when failed is true the field is reported
// with msg.
type rule struct {
	failed bool
	field  string
	msg    string
}

func firstFailure(rules ...rule) error {
	for _, r := range rules {
		if r.failed {
			return NewConfigurationError(r.field, r.msg)
		}
	}
	return nil
}

// Validate checks an enabled config. A disabled config is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return NewConfigurationError("", "configuration is nil")
	}
	if !c.Enabled {
		return nil
	}

	err := firstFailure(
		rule{c.Address == "", "address", "vault address is required"},
		rule{c.Path == "", "path", "secret path is required"},
		rule{!c.AuthMethod.IsValid(), "authMethod", "invalid auth method: " + c.AuthMethod.String()},
		rule{c.ConnectTimeout < 0, "connectTimeout", "connectTimeout cannot be negative"},
		rule{c.CommandTimeout < 0, "commandTimeout", "commandTimeout cannot be negative"},
	)
	if err != nil {
		return err
	}
	if err := c.validateLogin(); err != nil {
		return err
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return c.Retry.Validate()
}

func (c *Config) validateLogin() error {
	switch c.AuthMethod {
	case AuthMethodToken:
		return firstFailure(rule{c.Token == "", "token", "token is required for token authentication"})
	case AuthMethodKubernetes:
		return firstFailure(rule{c.Kubernetes == nil || c.Kubernetes.Role == "",
			"kubernetes.role", "role is required for kubernetes authentication"})
	case AuthMethodAppRole:
		if c.AppRole == nil {
			return NewConfigurationError("appRole.roleId", "roleId is required for approle authentication")
		}
		return firstFailure(
			rule{c.AppRole.RoleID == "", "appRole.roleId", "roleId is required for approle authentication"},
			rule{c.AppRole.SecretID == "", "appRole.secretId", "secretId is required for approle authentication"},
		)
	}
	return nil
}

// Validate requires a client certificate and key to be given together.
func (c *TLSConfig) Validate() error {
	if c == nil {
		return nil
	}
	return firstFailure(
		rule{c.ClientCert != "" && c.ClientKey == "", "tls.clientKey", "client key is required when client cert is provided"},
		rule{c.ClientKey != "" && c.ClientCert == "", "tls.clientCert", "client cert is required when client key is provided"},
	)
}

func (c *RetryConfig) Validate() error {
	if c == nil {
		return nil
	}
	return firstFailure(
		rule{c.MaxRetries < 0, "retry.maxRetries", "maxRetries cannot be negative"},
		rule{c.BackoffBase < 0 || c.BackoffMax < 0, "retry", "backoff cannot be negative"},
		rule{c.BackoffBase > 0 && c.BackoffMax > 0 && c.BackoffBase > c.BackoffMax,
			"retry.backoffBase", "backoffBase cannot be greater than backoffMax"},
	)
}

func (c *RetryConfig) toRetryConfig() *retry.Config {
	if c == nil {
		return retry.DefaultConfig()
	}
	return &retry.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.BackoffBase,
		MaxBackoff:     c.BackoffMax,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (c *Config) GetMount() string { return orDefault(c.Mount, DefaultMount) }

func (c *Config) GetConnectTimeout() time.Duration {
	return orDefault(max(c.ConnectTimeout, 0), DefaultConnectTimeout)
}

func (c *Config) GetCommandTimeout() time.Duration {
	return orDefault(max(c.CommandTimeout, 0), DefaultCommandTimeout)
}

func (c *KubernetesAuthConfig) GetMountPath() string {
	return orDefault(c.MountPath, DefaultKubernetesMountPath)
}

func (c *KubernetesAuthConfig) GetTokenPath() string {
	return orDefault(c.TokenPath, DefaultServiceAccountTokenPath)
}

func (c *AppRoleAuthConfig) GetMountPath() string {
	return orDefault(c.MountPath, DefaultAppRoleMountPath)
}
