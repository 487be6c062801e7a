package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/sqldb"
)

const plansSchema = `
CREATE TABLE IF NOT EXISTS plans (
	tenant_id                        TEXT NOT NULL,
	plan_id                          TEXT NOT NULL,
	principal_ai                     TEXT NOT NULL,
	intent                           TEXT NOT NULL,
	confidence                       REAL NOT NULL,
	steps                            TEXT NOT NULL,
	estimated_total_runtime_seconds  INTEGER NOT NULL DEFAULT 0,
	notes                            TEXT,
	caused_by_receipt_id             TEXT NOT NULL DEFAULT 'NA',
	parent_task_id                   TEXT NOT NULL DEFAULT 'NA',
	status                           TEXT NOT NULL,
	created_at                       TEXT NOT NULL,
	PRIMARY KEY (tenant_id, plan_id)
);
CREATE INDEX IF NOT EXISTS idx_plans_status ON plans (tenant_id, status, created_at);

CREATE TABLE IF NOT EXISTS workers (
	tenant_id                  TEXT NOT NULL,
	worker_id                  TEXT NOT NULL,
	worker_type                TEXT NOT NULL,
	capabilities               TEXT NOT NULL,
	task_types                 TEXT NOT NULL,
	description                TEXT,
	endpoint                   TEXT,
	is_async                   BOOLEAN NOT NULL DEFAULT TRUE,
	estimated_runtime_seconds  INTEGER NOT NULL DEFAULT 60,
	last_seen                  TEXT,
	status                     TEXT NOT NULL DEFAULT 'unknown',
	PRIMARY KEY (tenant_id, worker_id)
);
`

// SQLStore persists plans and the worker registry.
type SQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLStore(db *sql.DB, _ sqldb.Dialect) *SQLStore {
	return &SQLStore{
		db:     db,
		logger: slog.Default().With("component", "planner-store"),
	}
}

func (s *SQLStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, plansSchema); err != nil {
		return fmt.Errorf("create planner schema: %w", err)
	}
	return nil
}

// CreatePlan stores a new plan row.
func (s *SQLStore) CreatePlan(ctx context.Context, p *Plan) error {
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (
			tenant_id, plan_id, principal_ai, intent, confidence,
			steps, estimated_total_runtime_seconds, notes,
			caused_by_receipt_id, parent_task_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.TenantID, p.PlanID, p.PrincipalAI, p.Intent, p.Confidence,
		string(stepsJSON), p.EstimatedTotalRuntimeSeconds, p.Notes,
		receipts.OrNA(p.CausedByReceiptID), receipts.OrNA(p.ParentTaskID),
		p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan returns one plan.
func (s *SQLStore) GetPlan(ctx context.Context, tenantID, planID string) (*Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT plan_id, tenant_id, principal_ai, intent, confidence,
		       steps, estimated_total_runtime_seconds, notes,
		       caused_by_receipt_id, parent_task_id, status, created_at
		FROM plans WHERE tenant_id = $1 AND plan_id = $2`,
		tenantID, planID)

	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPlans returns recent plans, optionally filtered by status.
func (s *SQLStore) ListPlans(ctx context.Context, tenantID, status string, limit int) ([]Plan, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT plan_id, tenant_id, principal_ai, intent, confidence,
		       steps, estimated_total_runtime_seconds, notes,
		       caused_by_receipt_id, parent_task_id, status, created_at
		FROM plans WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// SetPlanStatus advances a plan's status.
func (s *SQLStore) SetPlanStatus(ctx context.Context, tenantID, planID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = $1 WHERE tenant_id = $2 AND plan_id = $3`,
		status, tenantID, planID)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertWorker registers a worker or refreshes an existing registration.
func (s *SQLStore) UpsertWorker(ctx context.Context, w *Worker) error {
	capsJSON, err := json.Marshal(w.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	typesJSON, err := json.Marshal(w.TaskTypes)
	if err != nil {
		return fmt.Errorf("marshal task types: %w", err)
	}
	if w.LastSeen == "" {
		w.LastSeen = receipts.Now()
	}
	if w.Status == "" {
		w.Status = "healthy"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (
			tenant_id, worker_id, worker_type, capabilities, task_types,
			description, endpoint, is_async, estimated_runtime_seconds,
			last_seen, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, worker_id) DO UPDATE SET
			worker_type = excluded.worker_type,
			capabilities = excluded.capabilities,
			task_types = excluded.task_types,
			description = excluded.description,
			endpoint = excluded.endpoint,
			is_async = excluded.is_async,
			estimated_runtime_seconds = excluded.estimated_runtime_seconds,
			last_seen = excluded.last_seen,
			status = excluded.status`,
		w.TenantID, w.WorkerID, w.WorkerType, string(capsJSON), string(typesJSON),
		w.Description, w.Endpoint, w.IsAsync, w.EstimatedRuntimeSeconds,
		w.LastSeen, w.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// ListWorkers returns every registered worker for the tenant.
func (s *SQLStore) ListWorkers(ctx context.Context, tenantID string) ([]Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, tenant_id, worker_type, capabilities, task_types,
		       description, endpoint, is_async, estimated_runtime_seconds,
		       last_seen, status
		FROM workers WHERE tenant_id = $1 ORDER BY worker_id`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var workers []Worker
	for rows.Next() {
		var w Worker
		var caps, types string
		var description, endpoint, lastSeen sql.NullString
		if err := rows.Scan(
			&w.WorkerID, &w.TenantID, &w.WorkerType, &caps, &types,
			&description, &endpoint, &w.IsAsync, &w.EstimatedRuntimeSeconds,
			&lastSeen, &w.Status,
		); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &w.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
		if err := json.Unmarshal([]byte(types), &w.TaskTypes); err != nil {
			return nil, fmt.Errorf("unmarshal task types: %w", err)
		}
		w.Description = description.String
		w.Endpoint = endpoint.String
		w.LastSeen = lastSeen.String
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var p Plan
	var stepsJSON string
	var notes sql.NullString
	if err := row.Scan(
		&p.PlanID, &p.TenantID, &p.PrincipalAI, &p.Intent, &p.Confidence,
		&stepsJSON, &p.EstimatedTotalRuntimeSeconds, &notes,
		&p.CausedByReceiptID, &p.ParentTaskID, &p.Status, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal plan steps: %w", err)
	}
	p.Notes = notes.String
	return &p, nil
}
