// Package vault reads the RSA signing key bundle from a HashiCorp Vault
// KV v2 secret.
//
// The bundle secret holds four data keys (PRIVATE_KEY, PUBLIC_KEY,
// WATERMARK_USERNAME, WATERMARK_PASSWORD). Every write creates a new KV
// version, and that version number is the key version embedded in issued
// tokens, so older public keys stay addressable with a versioned read:
//
//	GET /v1/<mount>/data/<path>?version=<n>
//
// Reads run with short per-request timeouts, retry transient failures with
// backoff, and pass through a circuit breaker. Callers treat any error as
// "use the cache".
//
// Supported authentication methods are token, AppRole and Kubernetes. A
// token with a TTL is renewed in the background at two thirds of its
// lifetime; an expired or rejected token triggers a fresh login.
package vault
