// Package api hosts the HTTP handlers that front the EdgeRiver REST API.
//
// The handlers coordinate request validation and response shaping while
// delegating persistence to storage.Repository implementations injected at
// construction time. The processing queue, metadata cache, and notifier are
// injected the same way; the package does not reach for globals and expects
// callers to supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced API-key authentication on replication routes, rate
// limiting, metrics, and logging concerns. New routes should preserve that
// contract by avoiding duplicate validation and by leaning on the middleware
// guarantees established in the server stack.
package api
