// Package tasks implements the task store and lease coordinator: the
// mutable, row-per-task state machine that dispatches work to pollers and
// enforces at-most-one concurrent execution per task.
package tasks

import (
	"errors"

	"github.com/Mindburn-Labs/fabric/pkg/receipts"
)

// Status is a task's position in its state machine:
// queued -> leased -> {completed, failed, expired}, with leased -> queued on
// fail-with-retry or lease reclaim.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusLeased    Status = "leased"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further lease operation can succeed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

var (
	// ErrNotFound means the task is absent, or the lease addressed by an
	// operation has been reclaimed or already resolved. Workers must treat
	// it as "lease lost" and abandon the task.
	ErrNotFound = errors.New("task or lease not found")
	// ErrNoWork means no queued task matched a lease request. Not an error
	// condition at the HTTP boundary (204).
	ErrNoWork = errors.New("no queued work available")
	// ErrInvalid marks request-shape failures so the HTTP boundary can
	// answer 400 instead of 500.
	ErrInvalid = errors.New("invalid request")
)

const (
	DefaultMaxAttempts = 3
	MaxPriority        = 10
)

// Task is one row of coordinator-owned state. Lease fields are non-empty
// iff status is leased.
type Task struct {
	TaskID   string `json:"task_id"`
	TenantID string `json:"tenant_id"`

	TaskType    string         `json:"task_type"`
	TaskSummary string         `json:"task_summary"`
	TaskBody    string         `json:"task_body,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`

	RecipientAI   string `json:"recipient_ai"`
	FromPrincipal string `json:"from_principal"`
	ForPrincipal  string `json:"for_principal"`

	ExpectedOutcomeKind  receipts.OutcomeKind `json:"expected_outcome_kind"`
	ExpectedArtifactMime string               `json:"expected_artifact_mime"`

	ParentTaskID      string `json:"parent_task_id"`
	CausedByReceiptID string `json:"caused_by_receipt_id"`

	Priority    int    `json:"priority"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	Status      Status `json:"status"`

	LeaseID        string `json:"lease_id,omitempty"`
	WorkerID       string `json:"worker_id,omitempty"`
	LeaseExpiresAt string `json:"lease_expires_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}
