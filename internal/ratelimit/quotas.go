package ratelimit

import (
	"fmt"
	"time"

	"github.com/farmpulse/farmpulse/internal/config"
	"github.com/farmpulse/farmpulse/internal/domain"
)

// Quotas is the static quota table: a default limit per tier plus overrides
// for sensitive endpoints. Immutable after construction.
type Quotas struct {
	window    time.Duration
	defaults  map[domain.Tier]int
	overrides map[string]map[domain.Tier]int
}

// NewQuotas validates and builds the quota table. Endpoint overrides must
// not exceed the tier default: overrides exist to tighten limits on
// sensitive endpoints, never to loosen them.
func NewQuotas(window time.Duration, defaults config.TierLimits, overrides map[string]config.TierLimits) (*Quotas, error) {
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %v", window)
	}

	q := &Quotas{
		window: window,
		defaults: map[domain.Tier]int{
			domain.TierFree:       defaults.Free,
			domain.TierPro:        defaults.Pro,
			domain.TierEnterprise: defaults.Enterprise,
		},
		overrides: make(map[string]map[domain.Tier]int, len(overrides)),
	}

	for tier, limit := range q.defaults {
		if limit <= 0 {
			return nil, fmt.Errorf("default limit for tier %s must be positive, got %d", tier, limit)
		}
	}

	for endpoint, limits := range overrides {
		perTier := map[domain.Tier]int{
			domain.TierFree:       limits.Free,
			domain.TierPro:        limits.Pro,
			domain.TierEnterprise: limits.Enterprise,
		}
		for tier, limit := range perTier {
			if limit <= 0 {
				return nil, fmt.Errorf("override for %s/%s must be positive, got %d", endpoint, tier, limit)
			}
			if limit > q.defaults[tier] {
				return nil, fmt.Errorf("override for %s/%s (%d) exceeds tier default (%d)", endpoint, tier, limit, q.defaults[tier])
			}
		}
		q.overrides[endpoint] = perTier
	}

	return q, nil
}

// Limit returns the request limit for one tier and endpoint. Unknown tiers
// fall back to the free tier's limit.
func (q *Quotas) Limit(tier domain.Tier, endpoint string) int {
	if !tier.Valid() {
		tier = domain.TierFree
	}
	if perTier, ok := q.overrides[endpoint]; ok {
		return perTier[tier]
	}
	return q.defaults[tier]
}

// Window returns the fixed window duration.
func (q *Quotas) Window() time.Duration {
	return q.window
}
