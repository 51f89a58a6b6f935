// Package registry tracks live WebSocket connections per user using the actor pattern.
//
// A single goroutine + command channel owns the user->connections maps (no mutexes).
// Per-connection write goroutines absorb slow clients; the heartbeat monitor probes
// and evicts dead connections through the same actor, so concurrent register,
// deliver, and sweep operations never observe partial state.
package registry
