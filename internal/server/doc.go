// Package server assembles the HTTP surface of the service.
//
// Routes:
//
//	GET  /actuator/health[/liveness|/readiness]  health probes
//	GET  /actuator/prometheus                     metrics scrape
//	POST /api/authenticate                        username/password login
//	POST /api/renewToken                          refresh token exchange
//	GET  /api/keys                                JWKS of cached public keys
//	GET  /api/whoami                              sample protected route
//
// Every request passes Recovery, RequestID, Tracing, Metrics and the
// authentication gate before reaching the engine. Business endpoints plug in
// with WithProtectedHandler and only run for authenticated requests.
package server
