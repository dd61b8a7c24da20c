package main

import (
	"os"
	"strings"

	"github.com/vyrodovalexey/keygate/internal/config"
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// applyVaultEnv overrides vault settings with the standard VAULT_*
// variables. A set VAULT_ADDR also enables the integration.
func applyVaultEnv(cfg *config.VaultConfig) {
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		cfg.Address = addr
		cfg.Enabled = true
	}
	cfg.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Token)
	cfg.Namespace = getEnvOrDefault("VAULT_NAMESPACE", cfg.Namespace)
	cfg.AuthMethod = getEnvOrDefault("VAULT_AUTH_METHOD", cfg.AuthMethod)

	cfg.TLS.CACert = getEnvOrDefault("VAULT_CACERT", cfg.TLS.CACert)
	cfg.TLS.CAPath = getEnvOrDefault("VAULT_CAPATH", cfg.TLS.CAPath)
	cfg.TLS.ClientCert = getEnvOrDefault("VAULT_CLIENT_CERT", cfg.TLS.ClientCert)
	cfg.TLS.ClientKey = getEnvOrDefault("VAULT_CLIENT_KEY", cfg.TLS.ClientKey)
	cfg.TLS.SkipVerify = getEnvBool("VAULT_SKIP_VERIFY", cfg.TLS.SkipVerify)

	cfg.AppRole.RoleID = getEnvOrDefault("VAULT_APPROLE_ROLE_ID", cfg.AppRole.RoleID)
	cfg.AppRole.SecretID = getEnvOrDefault("VAULT_APPROLE_SECRET_ID", cfg.AppRole.SecretID)
	cfg.Kubernetes.Role = getEnvOrDefault("VAULT_K8S_ROLE", cfg.Kubernetes.Role)

	if v := os.Getenv("KEYGATE_VAULT_PATH"); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv("KEYGATE_VAULT_MOUNT"); v != "" {
		cfg.Mount = v
	}
}
