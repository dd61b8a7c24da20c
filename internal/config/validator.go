package config

import (
	"fmt"
	"strings"
)

// ValidationError is one invalid configuration field.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) nonNegative(path string, d Duration) {
	if d < 0 {
		v.add(path, "must not be negative")
	}
}

func (v *validator) positive(path string, d Duration) {
	if d <= 0 {
		v.add(path, "must be positive")
	}
}

// ValidateConfig checks cfg and returns ValidationErrors when it is unusable.
func ValidateConfig(cfg *ServiceConfig) error {
	if cfg == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	v := &validator{}
	v.validateServer(&cfg.Server)
	v.validateVault(&cfg.Vault)
	v.validateJWT(&cfg.JWT)
	v.validateKeyCache(&cfg.KeyCache)
	v.validateAuth(&cfg.Auth)
	v.validateObservability(&cfg.Observability)
	if err := cfg.Audit.Validate(); err != nil {
		v.add("audit.format", "%s", err.Error())
	}

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (v *validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.add("server.address", "is required")
	}
	v.nonNegative("server.readTimeout", s.ReadTimeout)
	v.nonNegative("server.writeTimeout", s.WriteTimeout)
	v.nonNegative("server.shutdownTimeout", s.ShutdownTimeout)
	if s.SecurityHeaders.HSTSMaxAge < 0 {
		v.add("server.securityHeaders.hstsMaxAge", "must not be negative")
	}
}

func (v *validator) validateVault(c *VaultConfig) {
	v.nonNegative("vault.connectTimeout", c.ConnectTimeout)
	v.nonNegative("vault.commandTimeout", c.CommandTimeout)
	v.nonNegative("vault.retry.backoffBase", c.Retry.BackoffBase)
	v.nonNegative("vault.retry.backoffMax", c.Retry.BackoffMax)
	v.nonNegative("vault.circuitBreaker.timeout", c.CircuitBreaker.Timeout)
	if c.Retry.MaxRetries < 0 {
		v.add("vault.retry.maxRetries", "must not be negative")
	}

	if !c.Enabled {
		return
	}
	if c.Address == "" {
		v.add("vault.address", "is required when vault is enabled")
	}
	if c.Path == "" {
		v.add("vault.path", "is required when vault is enabled")
	}

	switch c.AuthMethod {
	case "token":
		if c.Token == "" {
			v.add("vault.token", "is required for token authentication")
		}
	case "approle":
		if c.AppRole.RoleID == "" {
			v.add("vault.appRole.roleId", "is required for approle authentication")
		}
		if c.AppRole.SecretID == "" {
			v.add("vault.appRole.secretId", "is required for approle authentication")
		}
	case "kubernetes":
		if c.Kubernetes.Role == "" {
			v.add("vault.kubernetes.role", "is required for kubernetes authentication")
		}
	default:
		v.add("vault.authMethod", "unsupported auth method %q", c.AuthMethod)
	}
}

func (v *validator) validateJWT(c *JWTConfig) {
	v.positive("jwt.accessTokenTTL", c.AccessTokenTTL)
	v.positive("jwt.refreshTokenTTL", c.RefreshTokenTTL)
	v.nonNegative("jwt.leeway", c.Leeway)
}

func (v *validator) validateKeyCache(c *KeyCacheConfig) {
	if !c.Shared.Enabled {
		return
	}
	if c.Shared.Redis.Address == "" {
		v.add("keyCache.shared.redis.address", "is required when the shared tier is enabled")
	}
	v.nonNegative("keyCache.shared.ttl", c.Shared.TTL)
	v.nonNegative("keyCache.shared.redis.dialTimeout", c.Shared.Redis.DialTimeout)
	v.nonNegative("keyCache.shared.redis.readTimeout", c.Shared.Redis.ReadTimeout)
	v.nonNegative("keyCache.shared.redis.writeTimeout", c.Shared.Redis.WriteTimeout)
	if c.Shared.Redis.DB < 0 {
		v.add("keyCache.shared.redis.db", "must not be negative")
	}
}

func (v *validator) validateAuth(c *AuthConfig) {
	for i, p := range c.BypassPaths {
		if !strings.HasPrefix(p, "/") {
			v.add(fmt.Sprintf("auth.bypassPaths[%d]", i), "must start with /")
		}
	}
	if c.LoginRateLimit.RPS < 0 {
		v.add("auth.loginRateLimit.rps", "must not be negative")
	}
	if c.LoginRateLimit.Burst < 0 {
		v.add("auth.loginRateLimit.burst", "must not be negative")
	}
}

func (v *validator) validateObservability(c *ObservabilityConfig) {
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		v.add("observability.logging.level", "unsupported level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		v.add("observability.logging.format", "unsupported format %q", c.Logging.Format)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		v.add("observability.tracing.samplingRate", "must be between 0 and 1")
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		v.add("observability.metrics.path", "must start with /")
	}
}
