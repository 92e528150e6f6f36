// Package interproc coordinates multiple launches of the same application
// on one machine so that a single *primary* instance handles the work, and
// later launches forward their command-line requests to it instead of
// starting a duplicate.
//
// ## How it works
//
// Every process creates a `Channel`. On creation the channel runs an
// *election*: it reads a small *lock descriptor* (an ini record with the
// believed server's `address` and `port`, stored in the temp directory) and
// probes the recorded endpoint with a `--check` handshake. If a live server
// answers `[ALIVE]`, this instance becomes a **client** of it; otherwise the
// descriptor is considered stale, deleted, and this instance becomes the
// **server**: it persists its own ephemeral listening port in the descriptor
// and starts accepting connections.
//
// A client instance polls the server for liveness and raises a
// `ConnectionLost` event when it becomes unreachable; the owning application
// typically reacts by calling `Channel.Reconnect`, which re-runs the
// election so that one of the survivors takes over.
//
// Messages are single plain-text lines over ephemeral TCP connections.
// A `--request a b c` line surfaces on the server as a `Request` event with
// the quoted tokens split shell-style; any other line surfaces as a
// `PlainMessage` event. Delivery is at-most-once and fire-and-forget: this
// is a best-effort, single-host coordinator, not a distributed lock service.
//
// All networking runs on background goroutines; results cross back to the
// owning application only as `Event` values read from `Channel.Events`, so
// the application is never blocked by network latency.
package interproc
