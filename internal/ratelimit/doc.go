// Package ratelimit enforces per-user, per-endpoint request quotas with a
// fixed-window counter.
//
// The quota table is static: a default limit per subscription tier plus
// tightening overrides for sensitive endpoints. Counters live in an
// in-memory store by default or in Redis for multi-instance deployments;
// both make the check-then-update sequence atomic per key. Usage samples go
// to an audit sink through a non-blocking recorder.
package ratelimit
