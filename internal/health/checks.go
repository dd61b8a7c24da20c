package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/keygate/internal/secrets"
	"github.com/vyrodovalexey/keygate/internal/vault"
)

// Check names.
const (
	CheckSecrets = "secrets"
	CheckVault   = "vault"
	CheckRedis   = "redis"
)

// Errors reported by the built-in checks.
var (
	ErrNoPublicKey = errors.New("no public key cached")
	ErrVaultSealed = errors.New("vault is sealed")
)

// CheckFunc runs one check. The returned detail is shown on success.
type CheckFunc func(ctx context.Context) (string, error)

// Check is a named readiness check.
type Check struct {
	name     string
	critical bool
	fn       CheckFunc
}

// CheckOption configures a Check.
type CheckOption func(*Check)

// WithCritical sets whether a failure takes the service DOWN.
func WithCritical(critical bool) CheckOption {
	return func(c *Check) {
		c.critical = critical
	}
}

// NewCheck creates a check. Checks are critical unless configured otherwise.
func NewCheck(name string, fn CheckFunc, opts ...CheckOption) *Check {
	c := &Check{name: name, critical: true, fn: fn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the check name.
func (c *Check) Name() string { return c.name }

// IsCritical reports whether a failure takes the service DOWN.
func (c *Check) IsCritical() bool { return c.critical }

// SnapshotSource exposes the cached credential bundle.
type SnapshotSource interface {
	Snapshot() secrets.Bundle
}

// SecretsCheck passes while a usable public key is cached.
func SecretsCheck(source SnapshotSource) *Check {
	return NewCheck(CheckSecrets, func(context.Context) (string, error) {
		bundle := source.Snapshot()
		if !bundle.HasPublicKey() {
			return "", ErrNoPublicKey
		}
		return fmt.Sprintf("key version %d", bundle.Version), nil
	})
}

// VaultHealth is the part of the vault client the check needs.
type VaultHealth interface {
	IsEnabled() bool
	Health(ctx context.Context) (*vault.HealthStatus, error)
}

// VaultCheck reports secret store reachability. It is non-critical.
func VaultCheck(client VaultHealth) *Check {
	return NewCheck(CheckVault, func(ctx context.Context) (string, error) {
		if !client.IsEnabled() {
			return "disabled", nil
		}
		status, err := client.Health(ctx)
		if err != nil {
			return "", err
		}
		if status.Sealed {
			return "", ErrVaultSealed
		}
		if status.Standby {
			return "standby " + status.Version, nil
		}
		return status.Version, nil
	}, WithCritical(false))
}

// Pinger is implemented by the shared cache tier.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisCheck reports shared cache reachability. It is non-critical.
func RedisCheck(p Pinger) *Check {
	return NewCheck(CheckRedis, func(ctx context.Context) (string, error) {
		if err := p.Ping(ctx); err != nil {
			return "", err
		}
		return "", nil
	}, WithCritical(false))
}
