// Package broadcast fans notification events out to registered connections.
//
// The Dispatcher resolves target users through the connection registry and
// delivers independently per connection: one dead socket never blocks the
// rest of a fan-out.
package broadcast
