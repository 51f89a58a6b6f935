package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/farmpulse/farmpulse/internal/domain"
	"github.com/farmpulse/farmpulse/internal/logging"
	"github.com/farmpulse/farmpulse/internal/metrics"
)

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	Tier      domain.Tier
}

// RetryAfterSeconds returns how long a denied caller should wait before
// retrying, rounded up to whole seconds (minimum 1).
func (r Result) RetryAfterSeconds(now time.Time) int {
	if !r.ResetAt.After(now) {
		return 1
	}
	secs := int((r.ResetAt.Sub(now) + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter decides allow/deny per (user, endpoint) using a fixed-window
// counter, the user's tier, and the static quota table.
//
// Failure policy: tier resolution fails open (unknown tier is treated as
// free, the most restrictive), quota state fails closed (an unreachable
// store denies the request). Check itself never returns an error.
type Limiter struct {
	resolver domain.TierResolver
	store    Store
	quotas   *Quotas
	recorder *Recorder
	clock    clockwork.Clock
}

// NewLimiter wires a limiter. recorder may be nil when usage auditing is
// disabled.
func NewLimiter(resolver domain.TierResolver, store Store, quotas *Quotas, recorder *Recorder, clock clockwork.Clock) *Limiter {
	return &Limiter{
		resolver: resolver,
		store:    store,
		quotas:   quotas,
		recorder: recorder,
		clock:    clock,
	}
}

// Check consumes one slot for (userID, endpoint) if the current window has
// capacity. The store take is atomic per key, so concurrent checks never
// overshoot the limit.
func (l *Limiter) Check(ctx context.Context, userID int64, endpoint string) Result {
	tier, err := l.resolver.Resolve(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrTierNotFound) {
			metrics.TierLookupFailuresTotal.Inc()
			slog.Warn("Tier resolution failed, defaulting to free", "user_id", userID, "error", err)
		}
		tier = domain.TierFree
	}

	limit := l.quotas.Limit(tier, endpoint)
	key := limitKey(userID, endpoint)

	decision, err := l.store.Take(ctx, key, limit, l.quotas.Window())
	if err != nil {
		logging.WithEndpoint(endpoint).Error("Rate limit store unavailable, denying request", "user_id", userID, "error", err)
		metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
		return Result{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   l.clock.Now().Add(l.quotas.Window()),
			Tier:      tier,
		}
	}

	if decision.Allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
	}

	return Result{
		Allowed:   decision.Allowed,
		Limit:     limit,
		Remaining: decision.Remaining,
		ResetAt:   decision.ResetAt,
		Tier:      tier,
	}
}

// RecordUsage hands a usage sample to the audit recorder. Fire and forget:
// it never blocks and never fails the caller.
func (l *Limiter) RecordUsage(userID int64, endpoint string, latency time.Duration, statusCode int) {
	if l.recorder == nil {
		return
	}
	l.recorder.Record(domain.UsageSample{
		UserID:     userID,
		Endpoint:   endpoint,
		Latency:    latency,
		StatusCode: statusCode,
		At:         l.clock.Now(),
	})
}

func limitKey(userID int64, endpoint string) string {
	return strconv.FormatInt(userID, 10) + ":" + endpoint
}
