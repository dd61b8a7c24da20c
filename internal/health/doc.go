// Package health serves the actuator health endpoints.
//
// Liveness only reports that the process answers. Readiness runs the
// registered checks concurrently under a timeout: a failed critical check
// makes the service DOWN (503), a failed non-critical check makes it
// DEGRADED but still ready. The service keeps authenticating from its cached
// key material while the secret store is unreachable, so the store check is
// registered as non-critical.
package health
