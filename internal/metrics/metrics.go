// Package metrics defines the Prometheus metrics for the realtime core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection registry metrics
var (
	// RegistryActiveUsers tracks the number of user ids with at least one live connection
	RegistryActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_users",
			Help: "Number of user ids with at least one registered connection",
		},
	)

	// RegistryConnectedClients tracks the total number of registered connections
	RegistryConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_connected_clients_total",
			Help: "Total number of registered WebSocket connections across all users",
		},
	)

	// RegistrySlowClientsEvicted tracks connections evicted because their send buffer filled
	RegistrySlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_slow_clients_evicted_total",
			Help: "Total slow WebSocket connections evicted due to a full send buffer",
		},
	)

	// HeartbeatEvictionsTotal tracks connections evicted by the heartbeat monitor
	HeartbeatEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heartbeat_evictions_total",
			Help: "Connections evicted by the heartbeat monitor by reason",
		},
		[]string{"reason"},
	)

	// HeartbeatSweepDuration tracks how long a full heartbeat sweep takes
	HeartbeatSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heartbeat_sweep_duration_seconds",
			Help:    "Duration of one heartbeat sweep over all registered connections",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)
)

// Broadcast metrics
var (
	// BroadcastDeliveriesTotal tracks per-connection delivery attempts by result
	BroadcastDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Per-connection notification delivery attempts by result (delivered/failed)",
		},
		[]string{"result"},
	)

	// BroadcastOfflineDrops tracks sends addressed to users with no live connections
	BroadcastOfflineDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_offline_drops_total",
			Help: "Notifications addressed to users with zero registered connections",
		},
	)
)

// Protocol metrics
var (
	// ProtocolMessagesTotal tracks inbound protocol messages by type
	ProtocolMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_messages_total",
			Help: "Inbound WebSocket protocol messages by type",
		},
		[]string{"type"},
	)

	// ProtocolErrorsTotal tracks malformed or invalid inbound messages
	ProtocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "protocol_errors_total",
			Help: "Malformed or invalid inbound WebSocket messages",
		},
	)
)

// Rate limiter metrics
var (
	// RateLimitDecisionsTotal tracks limiter decisions by outcome
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limit check decisions by outcome (allowed/denied)",
		},
		[]string{"outcome"},
	)

	// TierLookupFailuresTotal tracks tier resolutions that fell back to free
	TierLookupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tier_lookup_failures_total",
			Help: "Tier resolutions that failed and defaulted to the free tier",
		},
	)

	// UsageSamplesDroppedTotal tracks usage samples dropped because the recorder buffer was full
	UsageSamplesDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_samples_dropped_total",
			Help: "Usage samples dropped due to a full recorder buffer",
		},
	)

	// UsageSinkErrorsTotal tracks audit sink write failures
	UsageSinkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_sink_errors_total",
			Help: "Failed writes to the usage audit sink",
		},
	)
)

// Connection admission metrics
var (
	// ConnectionsRejectedTotal tracks WebSocket upgrades rejected at admission by reason
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_rejected_total",
			Help: "WebSocket connections rejected at admission by reason",
		},
		[]string{"reason"},
	)
)

// Backend metrics
var (
	// RedisOpsTotal tracks Redis commands by operation and outcome
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Redis commands executed by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis command latency by operation
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis command duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks failed Redis dials
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Failed attempts to establish a Redis connection",
		},
	)

	// DBQueryDuration tracks Postgres query latency by statement kind
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Postgres query duration in seconds by statement kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	// DBErrorsTotal tracks failed Postgres queries by statement kind
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Failed Postgres queries by statement kind",
		},
		[]string{"query"},
	)
)
