package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketConsumesAndRefills(t *testing.T) {
	tb := NewTokenBucket(100, 2)

	assert.True(t, tb.Allow(1))
	assert.True(t, tb.Allow(1))
	assert.False(t, tb.Allow(1), "bucket drained")

	time.Sleep(30 * time.Millisecond)
	assert.True(t, tb.Allow(1), "refilled after waiting")
}

func TestTokenBucketCapacityCap(t *testing.T) {
	tb := NewTokenBucket(1000, 1)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, tb.Allow(1))
	assert.False(t, tb.Allow(1), "refill never exceeds capacity")
}

func TestMemoryStoreIsolatesActors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	policy := Policy{RPM: 60, Burst: 1}

	ok, err := s.Allow(ctx, "tenant-a/alice", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Allow(ctx, "tenant-a/alice", policy, 1)
	require.NoError(t, err)
	assert.False(t, ok, "alice's bucket is empty")

	ok, err = s.Allow(ctx, "tenant-b/bob", policy, 1)
	require.NoError(t, err)
	assert.True(t, ok, "bob has his own bucket")
}

func TestCheck(t *testing.T) {
	s := NewMemoryStore()
	policy := Policy{RPM: 60, Burst: 1}

	require.NoError(t, Check(context.Background(), s, "a", policy))
	assert.Error(t, Check(context.Background(), s, "a", policy))
	assert.Error(t, Check(context.Background(), nil, "a", policy), "nil store fails closed")
}
