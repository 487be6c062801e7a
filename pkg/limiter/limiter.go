// Package limiter provides per-actor token bucket rate limiting with an
// in-process store for single-node deployments and a Redis store for
// multi-node ones.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy defines the bucket shape for one class of actor.
type Policy struct {
	RPM   int // sustained requests per minute
	Burst int // bucket capacity
}

// Store abstracts the storage for rate limiting buckets.
type Store interface {
	// Allow checks whether actorID may perform an action costing 'cost'
	// tokens. Returns false when the bucket is empty.
	Allow(ctx context.Context, actorID string, policy Policy, cost int) (bool, error)
}

// TokenBucket is a thread-safe token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) Allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = tb.tokens + elapsed*tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// MemoryStore keeps buckets in process memory. Suitable for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*TokenBucket)}
}

func (s *MemoryStore) Allow(_ context.Context, actorID string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tb, exists := s.buckets[actorID]
	if !exists {
		rate := float64(policy.RPM) / 60.0
		if rate <= 0 {
			rate = 1
		}
		tb = NewTokenBucket(rate, policy.Burst)
		s.buckets[actorID] = tb
	}
	return tb.Allow(cost), nil
}

// Check consults the store and converts a denial into an error.
func Check(ctx context.Context, store Store, actorID string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("limiter: no store configured")
	}
	allowed, err := store.Allow(ctx, actorID, policy, 1)
	if err != nil {
		return fmt.Errorf("limiter check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("limiter: rate limit exceeded for %s", actorID)
	}
	return nil
}
