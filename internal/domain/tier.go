package domain

import (
	"context"
	"fmt"
)

// Tier is a user's subscription class. It determines how generous the
// per-endpoint request quotas are.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// ParseTier converts a string to a Tier, rejecting unknown values.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// TierResolver maps a user id to its subscription tier.
//
// Resolvers return ErrTierNotFound for users without an explicit assignment;
// callers are expected to fall back to TierFree. The rate limiter additionally
// treats any other resolution error as TierFree so a tier-store outage can
// never hard-fail a request.
type TierResolver interface {
	Resolve(ctx context.Context, userID int64) (Tier, error)
}
