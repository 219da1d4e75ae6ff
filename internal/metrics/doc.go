// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Session counts (active, accepted, closed by reason)
//   - Inbound message rates by type and decode failures
//   - Replies queued by target (sender, broadcast) and write failures
//   - Registry size and heartbeats for unknown clients
//
// A nil *Metrics is valid and records nothing, so components can run
// uninstrumented in tests.
package metrics
