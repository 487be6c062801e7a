package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/fabric/pkg/ids"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/sqldb"
)

// SQLTaskStore holds task rows in the relational store. Lease acquisition is
// dialect-aware: Postgres uses FOR UPDATE SKIP LOCKED inside a transaction
// so concurrent pollers never block on each other; SQLite claims with a
// single atomic UPDATE, relying on its one-writer model.
type SQLTaskStore struct {
	db      *sql.DB
	dialect sqldb.Dialect
	logger  *slog.Logger
}

func NewSQLTaskStore(db *sql.DB, dialect sqldb.Dialect) *SQLTaskStore {
	return &SQLTaskStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "task_store"),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	tenant_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	task_type TEXT NOT NULL,
	task_summary TEXT NOT NULL,
	task_body TEXT NOT NULL DEFAULT '',
	inputs TEXT NOT NULL DEFAULT '{}',
	recipient_ai TEXT NOT NULL,
	from_principal TEXT NOT NULL,
	for_principal TEXT NOT NULL,
	expected_outcome_kind TEXT NOT NULL DEFAULT 'NA',
	expected_artifact_mime TEXT NOT NULL DEFAULT 'NA',
	parent_task_id TEXT NOT NULL DEFAULT 'NA',
	caused_by_receipt_id TEXT NOT NULL DEFAULT 'NA',
	priority INTEGER NOT NULL DEFAULT 0,
	attempt INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	status TEXT NOT NULL DEFAULT 'queued',
	lease_id TEXT,
	worker_id TEXT,
	lease_expires_at TEXT,
	error_message TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	PRIMARY KEY (tenant_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_queue ON tasks (tenant_id, status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_lease_expiry ON tasks (tenant_id, status, lease_expires_at);
CREATE INDEX IF NOT EXISTS idx_tasks_lease ON tasks (tenant_id, lease_id);
`

func (s *SQLTaskStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("init tasks schema: %w", err)
	}
	return nil
}

const taskColumns = `tenant_id, task_id, task_type, task_summary, task_body, inputs,
	recipient_ai, from_principal, for_principal, expected_outcome_kind,
	expected_artifact_mime, parent_task_id, caused_by_receipt_id, priority,
	attempt, max_attempts, status, lease_id, worker_id, lease_expires_at,
	error_message, created_at, started_at, completed_at`

// Create inserts a queued row. A missing task_id gets a fresh sortable id;
// max_attempts defaults to 3 and priority is clamped into [0, 10].
func (s *SQLTaskStore) Create(ctx context.Context, t *Task) error {
	if !receipts.IsSet(t.TaskID) {
		t.TaskID = ids.NewTaskID()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	if t.Priority < 0 {
		t.Priority = 0
	}
	if t.Priority > MaxPriority {
		t.Priority = MaxPriority
	}
	t.ParentTaskID = receipts.OrNA(t.ParentTaskID)
	t.CausedByReceiptID = receipts.OrNA(t.CausedByReceiptID)
	t.ExpectedArtifactMime = receipts.OrNA(t.ExpectedArtifactMime)
	if t.ExpectedOutcomeKind == "" {
		t.ExpectedOutcomeKind = receipts.OutcomeNA
	}
	t.Status = StatusQueued
	t.Attempt = 0
	t.CreatedAt = receipts.Now()

	inputs, err := json.Marshal(orEmpty(t.Inputs))
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24)`,
		t.TenantID, t.TaskID, t.TaskType, t.TaskSummary, t.TaskBody, string(inputs),
		t.RecipientAI, t.FromPrincipal, t.ForPrincipal, string(t.ExpectedOutcomeKind),
		t.ExpectedArtifactMime, t.ParentTaskID, t.CausedByReceiptID, t.Priority,
		t.Attempt, t.MaxAttempts, string(t.Status), nil, nil, nil,
		nil, t.CreatedAt, nil, nil,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *SQLTaskStore) Get(ctx context.Context, tenantID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 AND task_id = $2`,
		tenantID, taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// List returns recent tasks for a tenant, optionally filtered by status.
func (s *SQLTaskStore) List(ctx context.Context, tenantID string, status Status, limit int) ([]Task, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)
	return s.queryTasks(ctx, query, args...)
}

// Lease claims the best queued task for a worker: highest priority first,
// FIFO within priority, ties broken by task_id. When preferredKinds is
// non-empty a first pass is constrained to those kinds; the unconstrained
// fallback runs only if it found nothing. Returns ErrNoWork when the queue
// is empty for this tenant.
func (s *SQLTaskStore) Lease(ctx context.Context, tenantID, workerID string, preferredKinds []string, leaseDuration time.Duration) (*Task, error) {
	if len(preferredKinds) > 0 {
		t, err := s.leaseOne(ctx, tenantID, workerID, preferredKinds, leaseDuration)
		if err == nil || !errors.Is(err, ErrNoWork) {
			return t, err
		}
	}
	return s.leaseOne(ctx, tenantID, workerID, nil, leaseDuration)
}

func (s *SQLTaskStore) leaseOne(ctx context.Context, tenantID, workerID string, kinds []string, leaseDuration time.Duration) (*Task, error) {
	now := time.Now()
	leaseID := ids.NewLeaseID()
	startedAt := receipts.FormatTime(now)
	expiresAt := receipts.FormatTime(now.Add(leaseDuration))

	var (
		t   *Task
		err error
	)
	if s.dialect == sqldb.Postgres {
		t, err = s.leasePostgres(ctx, tenantID, workerID, kinds, leaseID, startedAt, expiresAt)
	} else {
		t, err = s.leaseSQLite(ctx, tenantID, workerID, kinds, leaseID, startedAt, expiresAt)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "task leased",
		"tenant_id", tenantID,
		"task_id", t.TaskID,
		"lease_id", leaseID,
		"worker_id", workerID,
		"expires_at", expiresAt,
	)
	return t, nil
}

// candidateClause orders and filters queued rows. attempt < max_attempts is
// redundant given how rows get requeued, but it makes the invariant local.
func candidateClause(kinds []string, argOffset int) (string, []any) {
	clause := `tenant_id = $1 AND status = 'queued' AND attempt < max_attempts`
	var args []any
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, k := range kinds {
			placeholders[i] = fmt.Sprintf("$%d", argOffset+i+1)
			args = append(args, k)
		}
		clause += ` AND task_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	return clause, args
}

func (s *SQLTaskStore) leasePostgres(ctx context.Context, tenantID, workerID string, kinds []string, leaseID, startedAt, expiresAt string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	clause, kindArgs := candidateClause(kinds, 1)
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + clause + `
		ORDER BY priority DESC, created_at ASC, task_id ASC
		LIMIT 1 FOR UPDATE SKIP LOCKED`
	args := append([]any{tenantID}, kindArgs...)

	t, err := scanTask(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoWork
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'leased', lease_id = $1, worker_id = $2,
			lease_expires_at = $3, started_at = $4
			WHERE tenant_id = $5 AND task_id = $6`,
		leaseID, workerID, expiresAt, startedAt, tenantID, t.TaskID)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}

	t.Status = StatusLeased
	t.LeaseID = leaseID
	t.WorkerID = workerID
	t.LeaseExpiresAt = expiresAt
	t.StartedAt = startedAt
	return t, nil
}

func (s *SQLTaskStore) leaseSQLite(ctx context.Context, tenantID, workerID string, kinds []string, leaseID, startedAt, expiresAt string) (*Task, error) {
	clause, kindArgs := candidateClause(kinds, 5)
	query := `UPDATE tasks SET status = 'leased', lease_id = $2, worker_id = $3,
		lease_expires_at = $4, started_at = $5
		WHERE tenant_id = $1 AND status = 'queued' AND task_id = (
			SELECT task_id FROM tasks WHERE ` + clause + `
			ORDER BY priority DESC, created_at ASC, task_id ASC LIMIT 1)`
	args := append([]any{tenantID, leaseID, workerID, expiresAt, startedAt}, kindArgs...)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNoWork
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 AND lease_id = $2`,
		tenantID, leaseID)
	return scanTask(row)
}

// Heartbeat extends a held lease. The predicate pins lease_id, worker_id and
// the leased state, so a heartbeat racing a reaper pass loses cleanly.
func (s *SQLTaskStore) Heartbeat(ctx context.Context, tenantID, leaseID, workerID string, leaseDuration time.Duration) (string, error) {
	expiresAt := receipts.FormatTime(time.Now().Add(leaseDuration))
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET lease_expires_at = $1
			WHERE tenant_id = $2 AND lease_id = $3 AND worker_id = $4 AND status = 'leased'`,
		expiresAt, tenantID, leaseID, workerID)
	if err != nil {
		return "", fmt.Errorf("heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		return "", ErrNotFound
	}
	return expiresAt, nil
}

// Complete transitions a held lease to completed and returns the final row.
// A second completion of the same lease finds no leased row and reports
// ErrNotFound, which is what keeps transitions out of leased monotone.
func (s *SQLTaskStore) Complete(ctx context.Context, tenantID, leaseID, workerID string) (*Task, error) {
	completedAt := receipts.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'completed', completed_at = $1
			WHERE tenant_id = $2 AND lease_id = $3 AND worker_id = $4 AND status = 'leased'`,
		completedAt, tenantID, leaseID, workerID)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE tenant_id = $1 AND lease_id = $2`,
		tenantID, leaseID)
	return scanTask(row)
}

// Fail resolves a held lease after a worker error. With attempts remaining
// and retryable=true the row returns to the queue with attempt incremented;
// otherwise it goes terminal as failed. Returns the updated row and whether
// a retry was scheduled.
func (s *SQLTaskStore) Fail(ctx context.Context, tenantID, leaseID, workerID, errorMessage string, retryable bool) (*Task, bool, error) {
	t, err := s.getByLease(ctx, tenantID, leaseID, workerID)
	if err != nil {
		return nil, false, err
	}

	canRetry := retryable && t.Attempt+1 < t.MaxAttempts
	if canRetry {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET status = 'queued', attempt = attempt + 1,
				lease_id = NULL, worker_id = NULL, lease_expires_at = NULL,
				started_at = NULL, error_message = $1
				WHERE tenant_id = $2 AND lease_id = $3 AND worker_id = $4 AND status = 'leased'`,
			errorMessage, tenantID, leaseID, workerID)
		if err != nil {
			return nil, false, fmt.Errorf("requeue task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, false, ErrNotFound
		}
		requeued, err := s.Get(ctx, tenantID, t.TaskID)
		if err != nil {
			return nil, false, err
		}
		return requeued, true, nil
	}

	completedAt := receipts.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = 'failed', completed_at = $1, error_message = $2,
			lease_id = NULL, worker_id = NULL, lease_expires_at = NULL
			WHERE tenant_id = $3 AND lease_id = $4 AND worker_id = $5 AND status = 'leased'`,
		completedAt, errorMessage, tenantID, leaseID, workerID)
	if err != nil {
		return nil, false, fmt.Errorf("fail task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, ErrNotFound
	}
	failed, err := s.Get(ctx, tenantID, t.TaskID)
	if err != nil {
		return nil, false, err
	}
	return failed, false, nil
}

func (s *SQLTaskStore) getByLease(ctx context.Context, tenantID, leaseID, workerID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
			WHERE tenant_id = $1 AND lease_id = $2 AND worker_id = $3 AND status = 'leased'`,
		tenantID, leaseID, workerID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// ReclaimResult is one row the reaper acted on.
type ReclaimResult struct {
	Task    Task
	Expired bool // true: went terminal; false: requeued with attempts left
}

// ReclaimExpired scans leased rows across all tenants whose lease has run
// out and applies the retry policy: requeue with attempt incremented while
// attempts remain, otherwise transition to expired. Each row is claimed with
// a guarded update so a concurrent heartbeat or completion wins or loses
// atomically.
func (s *SQLTaskStore) ReclaimExpired(ctx context.Context) ([]ReclaimResult, error) {
	now := receipts.Now()
	stale, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = 'leased' AND lease_expires_at < $1`,
		now)
	if err != nil {
		return nil, err
	}

	var results []ReclaimResult
	for _, t := range stale {
		if t.Attempt+1 < t.MaxAttempts {
			res, err := s.db.ExecContext(ctx,
				`UPDATE tasks SET status = 'queued', attempt = attempt + 1,
					lease_id = NULL, worker_id = NULL, lease_expires_at = NULL, started_at = NULL
					WHERE tenant_id = $1 AND task_id = $2 AND status = 'leased' AND lease_id = $3`,
				t.TenantID, t.TaskID, t.LeaseID)
			if err != nil {
				return results, fmt.Errorf("requeue expired task %s: %w", t.TaskID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue // heartbeat or completion got there first
			}
			t.Status = StatusQueued
			t.Attempt++
			t.LeaseID, t.WorkerID, t.LeaseExpiresAt, t.StartedAt = "", "", "", ""
			results = append(results, ReclaimResult{Task: t, Expired: false})
		} else {
			res, err := s.db.ExecContext(ctx,
				`UPDATE tasks SET status = 'expired', completed_at = $1,
					lease_id = NULL, worker_id = NULL, lease_expires_at = NULL
					WHERE tenant_id = $2 AND task_id = $3 AND status = 'leased' AND lease_id = $4`,
				now, t.TenantID, t.TaskID, t.LeaseID)
			if err != nil {
				return results, fmt.Errorf("expire task %s: %w", t.TaskID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				continue
			}
			t.Status = StatusExpired
			t.CompletedAt = now
			t.LeaseID, t.WorkerID, t.LeaseExpiresAt = "", "", ""
			results = append(results, ReclaimResult{Task: t, Expired: true})
		}
	}
	return results, nil
}

// ForceLeaseExpiry backdates a lease. Test and admin hook only.
func (s *SQLTaskStore) ForceLeaseExpiry(ctx context.Context, tenantID, taskID string, expiresAt string, attempt int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET lease_expires_at = $1, attempt = $2
			WHERE tenant_id = $3 AND task_id = $4 AND status = 'leased'`,
		expiresAt, attempt, tenantID, taskID)
	return err
}

func (s *SQLTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t            Task
		expectedKind string
		status       string
		inputs       string
		leaseID      sql.NullString
		workerID     sql.NullString
		leaseExpires sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullString
		completedAt  sql.NullString
	)
	err := row.Scan(
		&t.TenantID, &t.TaskID, &t.TaskType, &t.TaskSummary, &t.TaskBody, &inputs,
		&t.RecipientAI, &t.FromPrincipal, &t.ForPrincipal, &expectedKind,
		&t.ExpectedArtifactMime, &t.ParentTaskID, &t.CausedByReceiptID, &t.Priority,
		&t.Attempt, &t.MaxAttempts, &status, &leaseID, &workerID, &leaseExpires,
		&errorMessage, &t.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ExpectedOutcomeKind = receipts.OutcomeKind(expectedKind)
	t.Status = Status(status)
	t.LeaseID = leaseID.String
	t.WorkerID = workerID.String
	t.LeaseExpiresAt = leaseExpires.String
	t.ErrorMessage = errorMessage.String
	t.StartedAt = startedAt.String
	t.CompletedAt = completedAt.String

	if err := json.Unmarshal([]byte(inputs), &t.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs for %s: %w", t.TaskID, err)
	}
	return &t, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
