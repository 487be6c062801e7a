package toolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/fabric/pkg/ledger"
	"github.com/Mindburn-Labs/fabric/pkg/planner"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/tasks"
)

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// BindLedger registers the memory_* tools backed by the receipt ledger.
func BindLedger(s *Server, l ledger.Ledger) {
	s.Register("memory_store_receipt", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var r receipts.Receipt
		if err := decodeArgs(args, &r); err != nil {
			return nil, err
		}
		result, err := l.Append(ctx, tenantID, &r)
		if errors.Is(err, ledger.ErrDuplicate) {
			// Idempotent re-emit: report the stored id as success.
			return map[string]any{"receipt_id": r.ReceiptID, "duplicate": true}, nil
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	})

	s.Register("memory_get_receipt", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			ReceiptID string `json:"receipt_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return l.Get(ctx, tenantID, in.ReceiptID)
	})

	s.Register("memory_get_inbox", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			RecipientAI string `json:"recipient_ai"`
			Limit       int    `json:"limit"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		items, err := l.Inbox(ctx, tenantID, in.RecipientAI, in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"receipts": items, "count": len(items)}, nil
	})

	s.Register("memory_get_task_timeline", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			TaskID string `json:"task_id"`
			Sort   string `json:"sort"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		order := ledger.OrderAsc
		if in.Sort == "desc" {
			order = ledger.OrderDesc
		}
		items, err := l.Timeline(ctx, tenantID, in.TaskID, order)
		if err != nil {
			return nil, err
		}
		return map[string]any{"receipts": items, "count": len(items)}, nil
	})

	s.Register("memory_get_receipt_chain", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			ReceiptID string `json:"receipt_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		items, err := l.Chain(ctx, tenantID, in.ReceiptID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"receipts": items, "count": len(items)}, nil
	})

	s.Register("memory_archive_receipt", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			ReceiptID string `json:"receipt_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		archivedAt, err := l.Archive(ctx, tenantID, in.ReceiptID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"receipt_id": in.ReceiptID, "archived_at": archivedAt}, nil
	})

	s.Register("memory_search", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			Text        string `json:"text"`
			RecipientAI string `json:"recipient_ai"`
			TaskType    string `json:"task_type"`
			Phase       string `json:"phase"`
			Limit       int    `json:"limit"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		items, err := l.Search(ctx, tenantID, ledger.SearchQuery{
			Text:        in.Text,
			RecipientAI: in.RecipientAI,
			TaskType:    in.TaskType,
			Phase:       receipts.Phase(in.Phase),
			Limit:       in.Limit,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"receipts": items, "count": len(items)}, nil
	})

	s.Register("memory_bootstrap", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			AgentName string `json:"agent_name"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return l.Bootstrap(ctx, tenantID, in.AgentName)
	})
}

// BindCoordinator registers the task queue tools.
func BindCoordinator(s *Server, co *tasks.Coordinator) {
	s.Register("queue_task", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var spec tasks.CreateSpec
		if err := decodeArgs(args, &spec); err != nil {
			return nil, err
		}
		return co.Create(ctx, tenantID, spec)
	})

	s.Register("lease_task", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var req tasks.LeaseRequest
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		grants, err := co.Lease(ctx, tenantID, req)
		if errors.Is(err, tasks.ErrNoWork) {
			return map[string]any{"leased": false}, nil
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{"leased": true, "grants": grants}, nil
	})

	s.Register("heartbeat", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			LeaseID  string `json:"lease_id"`
			WorkerID string `json:"worker_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		expiry, err := co.Heartbeat(ctx, tenantID, in.LeaseID, in.WorkerID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lease_id": in.LeaseID, "lease_expires_at": expiry}, nil
	})

	s.Register("complete_task", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			LeaseID string `json:"lease_id"`
			tasks.CompleteRequest
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return co.Complete(ctx, tenantID, in.LeaseID, in.CompleteRequest)
	})

	s.Register("fail_task", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			LeaseID      string `json:"lease_id"`
			WorkerID     string `json:"worker_id"`
			ErrorMessage string `json:"error_message"`
			Retryable    bool   `json:"retryable"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return co.Fail(ctx, tenantID, in.LeaseID, in.WorkerID, in.ErrorMessage, in.Retryable)
	})

	s.Register("get_task", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			TaskID string `json:"task_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return co.Get(ctx, tenantID, in.TaskID)
	})

	s.Register("list_tasks", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			Status string `json:"status"`
			Limit  int    `json:"limit"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		items, err := co.List(ctx, tenantID, tasks.Status(in.Status), in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tasks": items, "count": len(items)}, nil
	})

	s.Register("expire_leases", func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		n, err := co.ReclaimExpired(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"expired": n}, nil
	})

	s.Register("queue_status", func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
		return co.QueueStatus(), nil
	})
}

// BindPlanner registers the delegation planning tools.
func BindPlanner(s *Server, svc *planner.Service) {
	s.Register("analyze_intent", func(_ context.Context, _ string, args json.RawMessage) (any, error) {
		var in struct {
			Intent string `json:"intent"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return map[string]any{
			"task_type":  planner.DetectIntentType(in.Intent),
			"complexity": planner.EstimateComplexity(in.Intent),
		}, nil
	})

	s.Register("create_delegation_plan", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var req planner.Request
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		return svc.CreatePlan(ctx, tenantID, req)
	})

	s.Register("get_plan", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			PlanID string `json:"plan_id"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.GetPlan(ctx, tenantID, in.PlanID)
	})

	s.Register("list_plans", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			Status string `json:"status"`
			Limit  int    `json:"limit"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		items, err := svc.ListPlans(ctx, tenantID, in.Status, in.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"plans": items, "count": len(items)}, nil
	})

	s.Register("execute_plan", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var in struct {
			PlanID string `json:"plan_id"`
			DryRun bool   `json:"dry_run"`
		}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return svc.Execute(ctx, tenantID, in.PlanID, in.DryRun)
	})

	s.Register("register_worker", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		var w planner.Worker
		if err := decodeArgs(args, &w); err != nil {
			return nil, err
		}
		if err := svc.RegisterWorker(ctx, tenantID, w); err != nil {
			return nil, err
		}
		return map[string]any{"status": "registered", "worker_id": w.WorkerID}, nil
	})

	s.Register("list_workers", func(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
		workers, err := svc.ListWorkers(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workers": workers, "count": len(workers)}, nil
	})
}
