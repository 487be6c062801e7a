package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/fabric/pkg/emission"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/tasks"
)

// TaskQueuer submits queue_execution steps to the coordinator. Satisfied by
// *tasks.Coordinator in-process; an HTTP client can stand in across services.
type TaskQueuer interface {
	Create(ctx context.Context, tenantID string, spec tasks.CreateSpec) (*tasks.CreateResult, error)
}

// Service is the planner adapter: plan generation, storage, and execution.
type Service struct {
	store   *SQLStore
	queuer  TaskQueuer
	emitter emission.Emitter
	logger  *slog.Logger
}

func NewService(store *SQLStore, queuer TaskQueuer, emitter emission.Emitter) *Service {
	return &Service{
		store:   store,
		queuer:  queuer,
		emitter: emitter,
		logger:  slog.Default().With("component", "planner"),
	}
}

// CreateResult is returned by CreatePlan.
type CreateResult struct {
	Plan      *Plan  `json:"plan"`
	ReceiptID string `json:"receipt_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CreatePlan generates a plan from the intent, stores it, and emits a
// plan-created receipt. Emission failure is logged, not propagated; the plan
// row is the source of truth and the drain worker recovers the audit trail.
func (s *Service) CreatePlan(ctx context.Context, tenantID string, req Request) (*CreateResult, error) {
	if !receipts.IsSet(req.Intent) {
		return nil, fmt.Errorf("%w: intent is required", ErrInvalid)
	}
	if !receipts.IsSet(req.PrincipalAI) {
		return nil, fmt.Errorf("%w: principal_ai is required", ErrInvalid)
	}

	p := BuildPlan(req)
	p.TenantID = tenantID
	p.CausedByReceiptID = req.CausedByReceiptID
	p.ParentTaskID = req.ParentTaskID
	p.Status = PlanCreated
	p.CreatedAt = receipts.Now()

	if err := s.store.CreatePlan(ctx, p); err != nil {
		return nil, err
	}

	result := &CreateResult{Plan: p, CreatedAt: p.CreatedAt}
	receiptID, err := s.emitter.Emit(ctx, s.planCreatedReceipt(p, req))
	if err != nil {
		s.logger.WarnContext(ctx, "plan receipt not emitted",
			"tenant_id", tenantID, "plan_id", p.PlanID, "error", err)
		return result, nil
	}
	result.ReceiptID = receiptID
	return result, nil
}

// GetPlan returns one plan.
func (s *Service) GetPlan(ctx context.Context, tenantID, planID string) (*Plan, error) {
	return s.store.GetPlan(ctx, tenantID, planID)
}

// ListPlans returns recent plans, optionally filtered by status.
func (s *Service) ListPlans(ctx context.Context, tenantID, status string, limit int) ([]Plan, error) {
	return s.store.ListPlans(ctx, tenantID, status, limit)
}

// ExecuteResult reports what an Execute call queued (or would queue).
type ExecuteResult struct {
	PlanID      string   `json:"plan_id"`
	Status      string   `json:"status"` // validated | started
	StepsQueued int      `json:"steps_queued"`
	StepIDs     []string `json:"step_ids,omitempty"`
	ReceiptIDs  []string `json:"receipt_ids,omitempty"`
}

// Execute submits the plan's queue_execution steps to the coordinator. A
// dry run reports the count and step ids without queueing anything. Failed
// submissions are logged and the remaining steps continue; the plan still
// advances to executing.
func (s *Service) Execute(ctx context.Context, tenantID, planID string, dryRun bool) (*ExecuteResult, error) {
	p, err := s.store.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	execSteps := p.QueueExecutionSteps()
	if dryRun {
		result := &ExecuteResult{
			PlanID:      planID,
			Status:      "validated",
			StepsQueued: len(execSteps),
		}
		for _, step := range execSteps {
			result.StepIDs = append(result.StepIDs, step.StepID)
		}
		return result, nil
	}

	result := &ExecuteResult{PlanID: planID, Status: "started"}
	for _, step := range execSteps {
		created, err := s.queueStep(ctx, tenantID, p, step)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to queue plan step",
				"tenant_id", tenantID, "plan_id", planID,
				"step_id", step.StepID, "error", err)
			continue
		}
		result.StepsQueued++
		result.StepIDs = append(result.StepIDs, step.StepID)
		if created.ReceiptID != "" {
			result.ReceiptIDs = append(result.ReceiptIDs, created.ReceiptID)
		}
	}

	if err := s.store.SetPlanStatus(ctx, tenantID, planID, PlanExecuting); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) queueStep(ctx context.Context, tenantID string, p *Plan, step Step) (*tasks.CreateResult, error) {
	taskType := step.TaskType
	if taskType == "" {
		taskType = "generic"
	}
	body, err := json.Marshal(step.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal step params: %w", err)
	}

	return s.queuer.Create(ctx, tenantID, tasks.CreateSpec{
		TaskType:             taskType,
		TaskSummary:          step.Description,
		TaskBody:             string(body),
		Inputs:               step.Params,
		RecipientAI:          p.PrincipalAI,
		FromPrincipal:        p.PrincipalAI,
		ForPrincipal:         p.PrincipalAI,
		ExpectedOutcomeKind:  string(receipts.OutcomeArtifactPointer),
		ExpectedArtifactMime: "application/json",
		ParentTaskID:         p.PlanID,
	})
}

// StatusResult summarizes a plan's execution progress. Step completion is
// derived from the plan's own status; per-step outcomes live in the ledger.
type StatusResult struct {
	PlanID         string `json:"plan_id"`
	Status         string `json:"status"`
	TotalSteps     int    `json:"total_steps"`
	CompletedSteps int    `json:"completed_steps"`
	FailedSteps    int    `json:"failed_steps"`
	PendingSteps   int    `json:"pending_steps"`
}

// Status returns the execution status of a plan.
func (s *Service) Status(ctx context.Context, tenantID, planID string) (*StatusResult, error) {
	p, err := s.store.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	execSteps := len(p.QueueExecutionSteps())
	result := &StatusResult{
		PlanID:     planID,
		Status:     p.Status,
		TotalSteps: len(p.Steps),
	}
	if p.Status != PlanCompleted {
		result.PendingSteps = execSteps
	} else {
		result.CompletedSteps = execSteps
	}
	return result, nil
}

// RegisterWorker upserts a worker registration.
func (s *Service) RegisterWorker(ctx context.Context, tenantID string, w Worker) error {
	if !receipts.IsSet(w.WorkerID) {
		return fmt.Errorf("%w: worker_id is required", ErrInvalid)
	}
	if !receipts.IsSet(w.WorkerType) {
		return fmt.Errorf("%w: worker_type is required", ErrInvalid)
	}
	w.TenantID = tenantID
	return s.store.UpsertWorker(ctx, &w)
}

// ListWorkers returns the tenant's registered workers.
func (s *Service) ListWorkers(ctx context.Context, tenantID string) ([]Worker, error) {
	return s.store.ListWorkers(ctx, tenantID)
}

// planCreatedReceipt records the plan in the ledger. The plan id doubles as
// the task id so the plan's chain is queryable by Timeline(plan_id).
func (s *Service) planCreatedReceipt(p *Plan, req Request) *receipts.Receipt {
	body, _ := json.Marshal(map[string]any{
		"intent":     p.Intent,
		"steps":      len(p.Steps),
		"confidence": p.Confidence,
	})

	r := &receipts.Receipt{
		TenantID:             p.TenantID,
		TaskID:               p.PlanID,
		ParentTaskID:         req.ParentTaskID,
		CausedByReceiptID:    req.CausedByReceiptID,
		FromPrincipal:        p.PrincipalAI,
		ForPrincipal:         p.PrincipalAI,
		SourceSystem:         "planner",
		RecipientAI:          p.PrincipalAI,
		Phase:                receipts.PhaseAccepted,
		TaskType:             "plan.create",
		TaskSummary:          truncate("Plan created: "+p.Intent, 100),
		TaskBody:             string(body),
		Inputs:               req.Context,
		ExpectedOutcomeKind:  receipts.OutcomeArtifactPointer,
		ExpectedArtifactMime: "application/json",
		CreatedAt:            p.CreatedAt,
		Metadata:             map[string]any{"plan_id": p.PlanID},
	}
	r.Normalize()
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
