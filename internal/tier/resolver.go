// Package tier resolves user subscription tiers from the tier store,
// shielding the rate-limit hot path with a TTL cache and a circuit breaker.
package tier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"

	"github.com/farmpulse/farmpulse/internal/domain"
)

// Store persists tier assignments.
type Store interface {
	// FetchTier returns domain.ErrTierNotFound for users without an
	// explicit assignment.
	FetchTier(ctx context.Context, userID int64) (domain.Tier, error)
	UpsertTier(ctx context.Context, userID int64, tier domain.Tier) error
}

type cacheEntry struct {
	tier      domain.Tier
	expiresAt time.Time
}

// Service is the production TierResolver: tier store behind a TTL cache and
// a circuit breaker. A store outage or open breaker resolves to TierFree so
// the rate limiter never hard-fails a request.
type Service struct {
	store    Store
	clock    clockwork.Clock
	breaker  *gobreaker.CircuitBreaker
	cacheTTL time.Duration

	mu    sync.Mutex
	cache map[int64]cacheEntry
}

// NewService creates a resolver caching assignments for cacheTTL.
func NewService(store Store, clock clockwork.Clock, cacheTTL time.Duration) *Service {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tier-store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	return &Service{
		store:    store,
		clock:    clock,
		breaker:  breaker,
		cacheTTL: cacheTTL,
		cache:    make(map[int64]cacheEntry),
	}
}

// Resolve implements domain.TierResolver. Absent assignments resolve to the
// free tier without error; store failures return TierFree alongside the
// error so callers can count them.
func (s *Service) Resolve(ctx context.Context, userID int64) (domain.Tier, error) {
	if tier, ok := s.cached(userID); ok {
		return tier, nil
	}

	result, err := s.breaker.Execute(func() (any, error) {
		tier, err := s.store.FetchTier(ctx, userID)
		if errors.Is(err, domain.ErrTierNotFound) {
			// Not a store failure; do not trip the breaker.
			return domain.TierFree, nil
		}
		return tier, err
	})
	if err != nil {
		return domain.TierFree, fmt.Errorf("tier lookup for user %d: %w", userID, err)
	}

	tier := result.(domain.Tier)
	s.put(userID, tier)
	return tier, nil
}

// SetTier is the administrative operation assigning a tier to a user. It
// writes through to the store and refreshes the cache.
func (s *Service) SetTier(ctx context.Context, userID int64, tier domain.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", tier)
	}
	if err := s.store.UpsertTier(ctx, userID, tier); err != nil {
		return fmt.Errorf("upsert tier for user %d: %w", userID, err)
	}
	s.put(userID, tier)
	return nil
}

// StartEvictionTimer prunes expired cache entries every interval. Returns a
// stop function.
func (s *Service) StartEvictionTimer(interval time.Duration) func() {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				s.evictExpired()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (s *Service) cached(userID int64) (domain.Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[userID]
	if !ok || !s.clock.Now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.tier, true
}

func (s *Service) put(userID int64, tier domain.Tier) {
	s.mu.Lock()
	s.cache[userID] = cacheEntry{tier: tier, expiresAt: s.clock.Now().Add(s.cacheTTL)}
	s.mu.Unlock()
}

func (s *Service) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for userID, entry := range s.cache {
		if !now.Before(entry.expiresAt) {
			delete(s.cache, userID)
		}
	}
}

// StaticStore is an in-memory Store for deployments without a database and
// for tests.
type StaticStore struct {
	mu    sync.RWMutex
	tiers map[int64]domain.Tier
}

// NewStaticStore creates a store seeded with the given assignments.
func NewStaticStore(tiers map[int64]domain.Tier) *StaticStore {
	s := &StaticStore{tiers: make(map[int64]domain.Tier, len(tiers))}
	for userID, tier := range tiers {
		s.tiers[userID] = tier
	}
	return s
}

func (s *StaticStore) FetchTier(_ context.Context, userID int64) (domain.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tier, ok := s.tiers[userID]
	if !ok {
		return "", domain.ErrTierNotFound
	}
	return tier, nil
}

func (s *StaticStore) UpsertTier(_ context.Context, userID int64, tier domain.Tier) error {
	s.mu.Lock()
	s.tiers[userID] = tier
	s.mu.Unlock()
	return nil
}
