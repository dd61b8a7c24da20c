// Package config loads the service configuration.
//
// Configuration is a single YAML document. Values may reference the
// environment with ${VAR} or ${VAR:-default}; a literal dollar sign is
// written as $$. Durations use Go syntax ("200ms", "15m").
//
// Example:
//
//	server:
//	  address: ":8080"
//	vault:
//	  enabled: true
//	  address: ${VAULT_ADDR}
//	  token: ${VAULT_TOKEN}
//	  path: keygate/rsa
//	jwt:
//	  issuer: keygate
//	  accessTokenTTL: 15m
//
// A Watcher reloads the file on change. Only the logging level is applied
// to a running process.
package config
