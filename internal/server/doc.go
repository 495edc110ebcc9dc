// Package server hosts the EdgeRiver HTTP surface behind a single multiplexer.
//
// The server builds a consistent middleware chain of request IDs, logging,
// audit, metrics, security headers, CORS, rate limiting, and API-key checks
// so handlers all share common protections and instrumentation.
//
// A primary node mounts the admin API, the notification websocket, and
// playback; an edge node swaps the admin API for the replication receive
// routes guarded by its pre-shared key.
package server
