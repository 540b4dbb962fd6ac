// Package runner provides a single-agent convenience layer over the engine.
//
// A Runner owns one root agent and an embedded engine configured for it. It
// exposes the three execution shapes (streaming Run, blocking RunSync and
// bidirectional RunLive) keyed by user and session, without requiring callers
// to manage an agent registry.
//
// # Responsibilities (abridged)
//   - Root agent invocation (async streaming, sync helper, live streaming)
//   - Per-app session scoping via AppName
//   - Run lifecycle management & cancellation
//
// Multi-agent deployments that register several root agents should use the
// engine package directly.
package runner
