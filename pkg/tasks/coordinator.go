package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/fabric/pkg/emission"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
)

// CoordinatorConfig carries the lease policy and escalation routing.
type CoordinatorConfig struct {
	LeaseDuration       time.Duration // default 900s
	EscalationRecipient string        // fallback owner of exhausted tasks, default "delegate"
	SourceSystem        string        // source_system stamped on emitted receipts
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.LeaseDuration == 0 {
		c.LeaseDuration = 900 * time.Second
	}
	if c.EscalationRecipient == "" {
		c.EscalationRecipient = "delegate"
	}
	if c.SourceSystem == "" {
		c.SourceSystem = "coordinator"
	}
}

// Coordinator is the lease service core. It owns task rows exclusively and
// emits a receipt for every externally visible transition.
type Coordinator struct {
	store   *SQLTaskStore
	emitter emission.Emitter
	cfg     CoordinatorConfig
	logger  *slog.Logger
}

func NewCoordinator(store *SQLTaskStore, emitter emission.Emitter, cfg CoordinatorConfig) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		store:   store,
		emitter: emitter,
		cfg:     cfg,
		logger:  slog.Default().With("component", "coordinator"),
	}
}

// CreateSpec is the inbound shape for task creation.
type CreateSpec struct {
	TaskType             string         `json:"task_type"`
	TaskSummary          string         `json:"task_summary"`
	TaskBody             string         `json:"task_body"`
	Inputs               map[string]any `json:"inputs"`
	RecipientAI          string         `json:"recipient_ai"`
	FromPrincipal        string         `json:"from_principal"`
	ForPrincipal         string         `json:"for_principal"`
	ExpectedOutcomeKind  string         `json:"expected_outcome_kind"`
	ExpectedArtifactMime string         `json:"expected_artifact_mime"`
	ParentTaskID         string         `json:"parent_task_id"`
	CausedByReceiptID    string         `json:"caused_by_receipt_id"`
	Priority             int            `json:"priority"`
	MaxAttempts          int            `json:"max_attempts"`
}

// Validate checks the spec before any row is written.
func (s *CreateSpec) Validate() error {
	for field, value := range map[string]string{
		"task_type":      s.TaskType,
		"task_summary":   s.TaskSummary,
		"recipient_ai":   s.RecipientAI,
		"from_principal": s.FromPrincipal,
		"for_principal":  s.ForPrincipal,
	} {
		if !receipts.IsSet(value) {
			return fmt.Errorf("%s is required", field)
		}
	}
	if s.Priority < 0 || s.Priority > MaxPriority {
		return fmt.Errorf("priority must be in [0, %d]", MaxPriority)
	}
	if s.MaxAttempts < 0 {
		return errors.New("max_attempts must be >= 0")
	}
	return nil
}

// CreateResult is returned by Create. ReceiptID is empty when the accepted
// receipt could not be emitted; the row persists either way so the caller
// can reconcile via the ledger later.
type CreateResult struct {
	TaskID    string `json:"task_id"`
	ReceiptID string `json:"receipt_id,omitempty"`
	Status    Status `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Create inserts a queued task and emits its accepted receipt. When the
// emission exhausts retries the caller gets the task_id together with
// emission.ErrEmissionFailed so it can answer service_unavailable.
func (c *Coordinator) Create(ctx context.Context, tenantID string, spec CreateSpec) (*CreateResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	t := &Task{
		TenantID:             tenantID,
		TaskType:             spec.TaskType,
		TaskSummary:          spec.TaskSummary,
		TaskBody:             spec.TaskBody,
		Inputs:               spec.Inputs,
		RecipientAI:          spec.RecipientAI,
		FromPrincipal:        spec.FromPrincipal,
		ForPrincipal:         spec.ForPrincipal,
		ExpectedOutcomeKind:  receipts.OutcomeKind(spec.ExpectedOutcomeKind),
		ExpectedArtifactMime: spec.ExpectedArtifactMime,
		ParentTaskID:         spec.ParentTaskID,
		CausedByReceiptID:    spec.CausedByReceiptID,
		Priority:             spec.Priority,
		MaxAttempts:          spec.MaxAttempts,
	}
	if err := c.store.Create(ctx, t); err != nil {
		return nil, err
	}

	result := &CreateResult{TaskID: t.TaskID, Status: t.Status, CreatedAt: t.CreatedAt}
	receiptID, err := c.emitter.Emit(ctx, c.acceptedReceipt(t))
	if err != nil {
		c.logger.WarnContext(ctx, "accepted receipt not emitted",
			"tenant_id", tenantID, "task_id", t.TaskID, "error", err)
		return result, fmt.Errorf("task %s created but audit emission failed: %w", t.TaskID, err)
	}
	result.ReceiptID = receiptID
	return result, nil
}

// LeaseRequest is the inbound shape for lease acquisition.
type LeaseRequest struct {
	WorkerID       string   `json:"worker_id"`
	PreferredKinds []string `json:"preferred_kinds,omitempty"`
	MaxTasks       int      `json:"max_tasks,omitempty"`
}

// LeaseGrant is one leased task returned to a poller.
type LeaseGrant struct {
	LeaseID        string `json:"lease_id"`
	LeaseExpiresAt string `json:"lease_expires_at"`
	Task           Task   `json:"task"`
}

// Lease claims up to MaxTasks queued tasks for the worker. Returns ErrNoWork
// if nothing is claimable (the HTTP layer answers 204).
func (c *Coordinator) Lease(ctx context.Context, tenantID string, req LeaseRequest) ([]LeaseGrant, error) {
	if !receipts.IsSet(req.WorkerID) {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}
	max := req.MaxTasks
	if max < 1 {
		max = 1
	}

	var grants []LeaseGrant
	for i := 0; i < max; i++ {
		t, err := c.store.Lease(ctx, tenantID, req.WorkerID, req.PreferredKinds, c.cfg.LeaseDuration)
		if err != nil {
			if errors.Is(err, ErrNoWork) {
				break
			}
			return nil, err
		}
		grants = append(grants, LeaseGrant{
			LeaseID:        t.LeaseID,
			LeaseExpiresAt: t.LeaseExpiresAt,
			Task:           *t,
		})
	}
	if len(grants) == 0 {
		return nil, ErrNoWork
	}
	return grants, nil
}

// Heartbeat extends a held lease and returns the new expiry.
func (c *Coordinator) Heartbeat(ctx context.Context, tenantID, leaseID, workerID string) (string, error) {
	return c.store.Heartbeat(ctx, tenantID, leaseID, workerID, c.cfg.LeaseDuration)
}

// CompleteRequest is the worker's outcome block.
type CompleteRequest struct {
	WorkerID          string         `json:"worker_id"`
	Status            string         `json:"status"` // success | failure | canceled
	OutcomeKind       string         `json:"outcome_kind"`
	OutcomeText       string         `json:"outcome_text"`
	ArtifactLocation  string         `json:"artifact_location"`
	ArtifactPointer   string         `json:"artifact_pointer"`
	ArtifactChecksum  string         `json:"artifact_checksum"`
	ArtifactSizeBytes int64          `json:"artifact_size_bytes"`
	ArtifactMime      string         `json:"artifact_mime"`
	Metadata          map[string]any `json:"metadata"`
}

// CompleteResult mirrors the terminal transition back to the worker.
type CompleteResult struct {
	TaskID      string `json:"task_id"`
	LeaseID     string `json:"lease_id"`
	Status      string `json:"status"`
	ReceiptID   string `json:"receipt_id,omitempty"`
	CompletedAt string `json:"completed_at"`
}

// Complete resolves a held lease and emits the complete receipt, mirroring
// the outcome block and the original task's chain links.
func (c *Coordinator) Complete(ctx context.Context, tenantID, leaseID string, req CompleteRequest) (*CompleteResult, error) {
	if !receipts.IsSet(req.WorkerID) {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}
	status := receipts.Status(req.Status)
	switch status {
	case receipts.StatusSuccess, receipts.StatusFailure, receipts.StatusCanceled:
	default:
		return nil, fmt.Errorf("%w: status must be success, failure, or canceled; got %q", ErrInvalid, req.Status)
	}

	t, err := c.store.Complete(ctx, tenantID, leaseID, req.WorkerID)
	if err != nil {
		return nil, err
	}

	result := &CompleteResult{
		TaskID:      t.TaskID,
		LeaseID:     leaseID,
		Status:      string(status),
		CompletedAt: t.CompletedAt,
	}
	receiptID, err := c.emitter.Emit(ctx, c.completeReceipt(t, status, req))
	if err != nil {
		c.logger.WarnContext(ctx, "complete receipt not emitted",
			"tenant_id", tenantID, "task_id", t.TaskID, "error", err)
		return result, fmt.Errorf("task %s completed but audit emission failed: %w", t.TaskID, err)
	}
	result.ReceiptID = receiptID
	return result, nil
}

// FailResult tells the worker whether the task will be retried.
type FailResult struct {
	TaskID         string `json:"task_id"`
	Status         string `json:"status"` // retry_scheduled | failed
	RetryScheduled bool   `json:"retry_scheduled"`
	NextAttempt    int    `json:"next_attempt,omitempty"`
	ReceiptID      string `json:"receipt_id,omitempty"`
}

// Fail resolves a held lease after a worker error. Retryable failures with
// attempts remaining requeue the task; terminal failures emit an escalate
// receipt handing the task to the fabric's fallback recipient.
func (c *Coordinator) Fail(ctx context.Context, tenantID, leaseID, workerID, errorMessage string, retryable bool) (*FailResult, error) {
	if !receipts.IsSet(workerID) {
		return nil, fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}

	t, retryScheduled, err := c.store.Fail(ctx, tenantID, leaseID, workerID, errorMessage, retryable)
	if err != nil {
		return nil, err
	}

	if retryScheduled {
		return &FailResult{
			TaskID:         t.TaskID,
			Status:         "retry_scheduled",
			RetryScheduled: true,
			NextAttempt:    t.Attempt,
		}, nil
	}

	result := &FailResult{TaskID: t.TaskID, Status: "failed"}
	reason := fmt.Sprintf("task failed after %d attempt(s): %s", t.Attempt+1, errorMessage)
	receiptID, err := c.emitter.Emit(ctx, c.escalateReceipt(t, reason))
	if err != nil {
		c.logger.WarnContext(ctx, "escalate receipt not emitted",
			"tenant_id", tenantID, "task_id", t.TaskID, "error", err)
		return result, fmt.Errorf("task %s failed but audit emission failed: %w", t.TaskID, err)
	}
	result.ReceiptID = receiptID
	return result, nil
}

// Get returns one task row.
func (c *Coordinator) Get(ctx context.Context, tenantID, taskID string) (*Task, error) {
	return c.store.Get(ctx, tenantID, taskID)
}

// List returns recent tasks, optionally filtered by status.
func (c *Coordinator) List(ctx context.Context, tenantID string, status Status, limit int) ([]Task, error) {
	return c.store.List(ctx, tenantID, status, limit)
}

// ReclaimExpired applies the lease-expiry policy to every stale row and
// emits escalate receipts for the exhausted ones. Emission failures are
// logged and do not undo the row transition; the drain worker owns eventual
// audit delivery. Returns the number of rows acted on.
func (c *Coordinator) ReclaimExpired(ctx context.Context) (int, error) {
	results, err := c.store.ReclaimExpired(ctx)
	if err != nil {
		return len(results), err
	}

	for _, res := range results {
		if !res.Expired {
			c.logger.InfoContext(ctx, "expired lease requeued",
				"tenant_id", res.Task.TenantID,
				"task_id", res.Task.TaskID,
				"attempt", res.Task.Attempt,
			)
			continue
		}
		reason := fmt.Sprintf("lease expired, max retries exceeded (%d/%d)",
			res.Task.Attempt+1, res.Task.MaxAttempts)
		if _, err := c.emitter.Emit(ctx, c.escalateReceipt(&res.Task, reason)); err != nil {
			c.logger.ErrorContext(ctx, "escalate receipt not emitted for expired task",
				"tenant_id", res.Task.TenantID,
				"task_id", res.Task.TaskID,
				"error", err,
			)
		}
	}
	return len(results), nil
}

// QueueStatus exposes the emission overflow state when the emitter is the
// HTTP client; other emitters report an empty status.
func (c *Coordinator) QueueStatus() emission.QueueStatus {
	if client, ok := c.emitter.(*emission.Client); ok {
		return client.Status()
	}
	return emission.QueueStatus{}
}

func (c *Coordinator) acceptedReceipt(t *Task) *receipts.Receipt {
	r := &receipts.Receipt{
		TenantID:             t.TenantID,
		TaskID:               t.TaskID,
		ParentTaskID:         t.ParentTaskID,
		CausedByReceiptID:    t.CausedByReceiptID,
		Attempt:              t.Attempt,
		FromPrincipal:        t.FromPrincipal,
		ForPrincipal:         t.ForPrincipal,
		SourceSystem:         c.cfg.SourceSystem,
		RecipientAI:          t.RecipientAI,
		Phase:                receipts.PhaseAccepted,
		TaskType:             t.TaskType,
		TaskSummary:          t.TaskSummary,
		TaskBody:             t.TaskBody,
		Inputs:               t.Inputs,
		ExpectedOutcomeKind:  t.ExpectedOutcomeKind,
		ExpectedArtifactMime: t.ExpectedArtifactMime,
		CreatedAt:            receipts.Now(),
	}
	r.Normalize()
	return r
}

func (c *Coordinator) completeReceipt(t *Task, status receipts.Status, req CompleteRequest) *receipts.Receipt {
	outcomeKind := receipts.OutcomeKind(req.OutcomeKind)
	if outcomeKind == "" || outcomeKind == receipts.OutcomeNA {
		outcomeKind = receipts.OutcomeNone
	}
	r := &receipts.Receipt{
		TenantID:          t.TenantID,
		TaskID:            t.TaskID,
		ParentTaskID:      t.ParentTaskID,
		CausedByReceiptID: t.CausedByReceiptID,
		Attempt:           t.Attempt,
		FromPrincipal:     t.FromPrincipal,
		ForPrincipal:      t.ForPrincipal,
		SourceSystem:      c.cfg.SourceSystem,
		RecipientAI:       t.RecipientAI,
		Phase:             receipts.PhaseComplete,
		Status:            status,
		TaskType:          t.TaskType,
		TaskSummary:       t.TaskSummary,
		OutcomeKind:       outcomeKind,
		OutcomeText:       req.OutcomeText,
		ArtifactLocation:  req.ArtifactLocation,
		ArtifactPointer:   req.ArtifactPointer,
		ArtifactChecksum:  req.ArtifactChecksum,
		ArtifactSizeBytes: req.ArtifactSizeBytes,
		ArtifactMime:      req.ArtifactMime,
		Metadata:          req.Metadata,
		StartedAt:         t.StartedAt,
		CompletedAt:       t.CompletedAt,
		CreatedAt:         receipts.Now(),
	}
	r.Normalize()
	return r
}

// escalateReceipt hands ownership of a dead task to the fallback recipient.
// The routing invariant requires recipient_ai to equal escalation_to even
// though the task's own recipient differed; this is a deliberate change of
// ownership.
func (c *Coordinator) escalateReceipt(t *Task, reason string) *receipts.Receipt {
	r := &receipts.Receipt{
		TenantID:          t.TenantID,
		TaskID:            t.TaskID,
		ParentTaskID:      t.ParentTaskID,
		CausedByReceiptID: t.CausedByReceiptID,
		Attempt:           t.Attempt,
		FromPrincipal:     t.FromPrincipal,
		ForPrincipal:      t.ForPrincipal,
		SourceSystem:      c.cfg.SourceSystem,
		RecipientAI:       c.cfg.EscalationRecipient,
		Phase:             receipts.PhaseEscalate,
		TaskType:          t.TaskType,
		TaskSummary:       t.TaskSummary,
		TaskBody:          t.TaskBody,
		Inputs:            t.Inputs,
		EscalationClass:   receipts.EscalationPolicy,
		EscalationReason:  reason,
		EscalationTo:      c.cfg.EscalationRecipient,
		CreatedAt:         receipts.Now(),
	}
	r.Normalize()
	return r
}
