package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Decision is the outcome of one atomic slot take.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store holds per-key fixed-window counters. Take must be atomic per key:
// two concurrent takes against the same key must never both be admitted when
// only one slot remains.
type Store interface {
	// Take consumes one slot for key if the window has capacity. An expired
	// window is replaced with a fresh one counting from 1.
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type memoryEntry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the single-process Store: a mutex-guarded map. Entries are
// replaced, not mutated, once their window elapses; a cleanup timer prunes
// expired keys so idle users do not accumulate.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	clock   clockwork.Clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   clock,
	}
}

// Take implements Store. The whole check-then-update sequence runs under the
// store mutex, so the admission decision is atomic per key.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()

	e, exists := s.entries[key]
	if !exists || !now.Before(e.resetAt) {
		e = &memoryEntry{count: 1, resetAt: now.Add(window)}
		s.entries[key] = e
		return Decision{Allowed: true, Remaining: limit - 1, ResetAt: e.resetAt}, nil
	}

	if e.count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}, nil
	}

	e.count++
	return Decision{Allowed: true, Remaining: limit - e.count, ResetAt: e.resetAt}, nil
}

// Len returns the number of live entries. Used by tests as a leak check.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartCleanupTimer prunes expired entries every interval. Returns a stop
// function.
func (s *MemoryStore) StartCleanupTimer(interval time.Duration) func() {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				s.cleanup()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, key)
		}
	}
}
