// Package ledger implements the receipt ledger: the durable, append-only
// store of lifecycle events and the only source of truth about obligations.
// Every operation is scoped to a tenant resolved before any query executes.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/fabric/pkg/receipts"
)

var (
	// ErrNotFound means the addressed receipt is absent or already archived.
	ErrNotFound = errors.New("receipt not found")
	// ErrDuplicate means a receipt with the same (tenant_id, receipt_id)
	// already exists. Callers treat a duplicate as success, not failure.
	ErrDuplicate = errors.New("duplicate receipt_id")
)

// ValidationFailedError carries the field-level violations for a rejected
// append. Validation failures are final and never retried.
type ValidationFailedError struct {
	Details []receipts.ValidationError
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("receipt validation failed: %d violation(s)", len(e.Details))
}

// AppendResult is returned on a successful append.
type AppendResult struct {
	ReceiptID string `json:"receipt_id"`
	StoredAt  string `json:"stored_at"`
	TenantID  string `json:"tenant_id"`
}

// TimelineOrder selects the stored_at sort direction for timeline queries.
type TimelineOrder string

const (
	OrderAsc  TimelineOrder = "asc"
	OrderDesc TimelineOrder = "desc"
)

// SearchQuery filters receipts by substring on task_summary plus scalar
// equality on the remaining fields. Zero values mean "any".
type SearchQuery struct {
	Text        string
	RecipientAI string
	TaskType    string
	Phase       receipts.Phase
	Limit       int
}

// BootstrapResult is the session-resumption payload for one agent.
type BootstrapResult struct {
	Inbox  []receipts.Receipt `json:"inbox"`
	Recent []receipts.Receipt `json:"recent"`
	Config map[string]any     `json:"config"`
}

// Ledger is the receipt store contract. Implementations must enforce the
// phase invariants on append and keep (tenant_id, receipt_id) unique.
type Ledger interface {
	Append(ctx context.Context, tenantID string, r *receipts.Receipt) (AppendResult, error)
	Get(ctx context.Context, tenantID, receiptID string) (*receipts.Receipt, error)
	Inbox(ctx context.Context, tenantID, recipientAI string, limit int) ([]receipts.Receipt, error)
	Timeline(ctx context.Context, tenantID, taskID string, order TimelineOrder) ([]receipts.Receipt, error)
	Chain(ctx context.Context, tenantID, rootReceiptID string) ([]receipts.Receipt, error)
	Archive(ctx context.Context, tenantID, receiptID string) (string, error)
	Bootstrap(ctx context.Context, tenantID, agentName string) (*BootstrapResult, error)
	Search(ctx context.Context, tenantID string, q SearchQuery) ([]receipts.Receipt, error)
}
