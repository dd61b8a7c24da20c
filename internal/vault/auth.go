package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// loginFunc exchanges the configured identity for a client token.
type loginFunc func(ctx context.Context, api *vaultapi.Client) (*vaultapi.Secret, error)

func loginFor(cfg *Config) (loginFunc, error) {
	switch cfg.AuthMethod {
	case AuthMethodToken:
		return tokenLogin(cfg.Token), nil
	case AuthMethodAppRole:
		return writeLogin(cfg.AppRole.GetMountPath(), func() (map[string]interface{}, error) {
			return map[string]interface{}{
				"role_id":   cfg.AppRole.RoleID,
				"secret_id": cfg.AppRole.SecretID,
			}, nil
		}), nil
	case AuthMethodKubernetes:
		k := cfg.Kubernetes
		return writeLogin(k.GetMountPath(), func() (map[string]interface{}, error) {
			sa, err := os.ReadFile(k.GetTokenPath())
			if err != nil {
				return nil, fmt.Errorf("read service account token: %w", err)
			}
			return map[string]interface{}{
				"role": k.Role,
				"jwt":  strings.TrimSpace(string(sa)),
			}, nil
		}), nil
	}
	return nil, NewConfigurationError("authMethod", "unsupported auth method: "+cfg.AuthMethod.String())
}

// tokenLogin checks a pre-issued token with lookup-self and reports its
// remaining TTL as the lease duration.
func tokenLogin(token string) loginFunc {
	return func(ctx context.Context, api *vaultapi.Client) (*vaultapi.Secret, error) {
		api.SetToken(token)
		info, err := api.Auth().Token().LookupSelfWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("token lookup: %w", err)
		}

		auth := &vaultapi.SecretAuth{ClientToken: token}
		if info != nil {
			auth.LeaseDuration = ttlSeconds(info.Data["ttl"])
			auth.Renewable, _ = info.Data["renewable"].(bool)
		}
		return &vaultapi.Secret{Auth: auth}, nil
	}
}

// writeLogin posts the body built by payload to auth/<mount>/login.
func writeLogin(mount string, payload func() (map[string]interface{}, error)) loginFunc {
	return func(ctx context.Context, api *vaultapi.Client) (*vaultapi.Secret, error) {
		body, err := payload()
		if err != nil {
			return nil, err
		}
		secret, err := api.Logical().WriteWithContext(ctx, path.Join("auth", mount, "login"), body)
		if err != nil {
			return nil, fmt.Errorf("%s login: %w", mount, err)
		}
		return secret, nil
	}
}

func ttlSeconds(v interface{}) int {
	switch ttl := v.(type) {
	case float64:
		return int(ttl)
	case json.Number:
		n, _ := ttl.Int64()
		return int(n)
	}
	return 0
}
