// Package config provides environment-based configuration.
//
// Loads quota tables, heartbeat tuning, and connection caps from environment
// variables with sensible defaults. Validates at startup; the quota table is
// immutable afterwards.
package config
