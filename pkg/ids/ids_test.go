package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(NewTaskID(), "T-"))
	assert.True(t, strings.HasPrefix(NewLeaseID(), "lease-"))
	assert.True(t, strings.HasPrefix(NewPlanID(), "plan-"))
	assert.NotContains(t, NewReceiptID(), "-T")
}

func TestReceiptIDsSortInCreationOrder(t *testing.T) {
	// UUIDv7 embeds a millisecond timestamp in the high bits, so ids
	// generated in sequence must never sort backwards.
	prev := NewReceiptID()
	for i := 0; i < 100; i++ {
		next := NewReceiptID()
		require.LessOrEqual(t, prev, next)
		prev = next
	}
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTaskID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
