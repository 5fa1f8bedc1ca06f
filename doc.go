// Package mcpwire is a transport-agnostic messaging layer for JSON-RPC 2.0
// backends. It wraps four concrete channels behind one uniform contract,
// builds them from a tagged configuration through a registry, and layers the
// reliability machinery a long-lived connection needs: reconnection with
// capped exponential backoff, subprocess pooling with failover, server-held
// HTTP sessions, pattern-based routing with middleware, and request/response
// correlation with timeouts and retries.
//
// # Channels
//
// Four channel types register themselves with the registry on import:
//   - subprocess: a containerised process spoken to over stdio, one JSON
//     message per line
//   - http: plain request/response POSTs with a health probe
//   - socket: a persistent WebSocket with ping/pong heartbeats and
//     automatic reconnection
//   - eventstream: server-sent events for the inbound half and a companion
//     POST endpoint for the outbound half
//
// All four implement Channel: Connect, Send, subscriber callbacks for
// messages, errors, and closure, plus per-channel metrics.
//
// # Factory
//
// The Factory is the composition root. Create takes a validated Config,
// builds the channel for its type tag, optionally wraps it in a subprocess
// Pool or an HTTP SessionManager, and tracks the resulting Instance through
// created, connecting, connected, error, and closed states. Shutdown tears
// everything down.
//
// # Routing and correlation
//
// The Router matches message methods against patterns like "tools/{name}"
// or "notifications/*" and fans matched messages out to every matching
// route's destination, wrapped in a configurable middleware chain with
// rate limiting, authentication, metrics, tracing, and panic recovery
// built in. The Tracker pairs responses with their originating requests by
// id, enforcing at most one pending waiter per id and resolving each
// exactly once: with the response, a timeout, or a cancellation.
package mcpwire
