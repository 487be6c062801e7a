// Package ids generates the fabric's sortable identifiers.
//
// All ids are UUIDv7 strings: the leading timestamp bits make the canonical
// text form lexicographically sortable in creation order, which the ledger
// relies on for receipt ordering and the coordinator for FIFO tie-breaks.
package ids

import "github.com/google/uuid"

const (
	taskPrefix  = "T-"
	leasePrefix = "lease-"
	planPrefix  = "plan-"
	stepPrefix  = "step-"
)

// newV7 returns a UUIDv7 string, falling back to v4 if the clock source
// misbehaves (NewV7 only errors when randomness is unavailable).
func newV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewReceiptID returns a bare sortable id for a receipt.
func NewReceiptID() string {
	return newV7()
}

// NewTaskID returns a task id with the "T-" prefix.
func NewTaskID() string {
	return taskPrefix + newV7()
}

// NewLeaseID returns a lease id with the "lease-" prefix.
func NewLeaseID() string {
	return leasePrefix + newV7()
}

// NewPlanID returns a plan id with the "plan-" prefix.
func NewPlanID() string {
	return planPrefix + newV7()
}

// NewStepID returns a plan step id with the "step-" prefix.
func NewStepID() string {
	return stepPrefix + newV7()
}
