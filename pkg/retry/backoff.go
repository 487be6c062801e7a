// Package retry computes exponential backoff with deterministic jitter.
// The jitter is a PRF of the retry key and attempt index rather than a
// random draw, so a given receipt retries on the same schedule no matter
// which process computes it.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Policy bounds a retry schedule.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// EmissionPolicy is the default schedule for ledger emission: base 1 s,
// doubled per attempt, three foreground attempts.
var EmissionPolicy = Policy{
	BaseMs:      1000,
	MaxMs:       30000,
	MaxJitterMs: 250,
	MaxAttempts: 3,
}

// Backoff returns the delay before attempt (0-based) for the given key.
func Backoff(key string, attempt int, policy Policy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			// Cap the exponent to avoid overflow.
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+jitter(key, attempt, policy)) * time.Millisecond
}

func jitter(key string, attempt int, policy Policy) int64 {
	if policy.MaxJitterMs == 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", key, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}
