// Package protocol implements the per-connection message protocol as an
// explicit finite-state machine over a JSON envelope.
//
// Inbound: subscribe, unsubscribe, ping. Outbound: connected, subscribed,
// unsubscribed, pong, notification, error. Malformed input gets an error
// frame without closing the connection.
package protocol
