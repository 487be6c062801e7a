package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Mindburn-Labs/fabric/pkg/ids"
	"github.com/Mindburn-Labs/fabric/pkg/receipts"
	"github.com/Mindburn-Labs/fabric/pkg/sqldb"
)

// Query bounds.
const (
	defaultInboxLimit  = 50
	maxInboxLimit      = 100
	defaultSearchLimit = 20
	bootstrapRecent    = 10
	// maxChainDepth bounds the causal traversal. Cycles are impossible for
	// immutable receipts, but the walk stays defensive anyway.
	maxChainDepth = 100
)

// SQLLedger implements Ledger over database/sql. The same statements run on
// Postgres and SQLite; timestamps are fixed-width UTC strings so stored_at
// ordering works as plain TEXT comparison on both engines.
type SQLLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{
		db:     db,
		logger: slog.Default().With("component", "ledger"),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
	tenant_id TEXT NOT NULL,
	receipt_id TEXT NOT NULL,
	schema_version TEXT NOT NULL DEFAULT '1.0',
	task_id TEXT NOT NULL,
	parent_task_id TEXT NOT NULL DEFAULT 'NA',
	caused_by_receipt_id TEXT NOT NULL DEFAULT 'NA',
	dedupe_key TEXT NOT NULL DEFAULT 'NA',
	attempt INTEGER NOT NULL DEFAULT 0,
	from_principal TEXT NOT NULL,
	for_principal TEXT NOT NULL,
	source_system TEXT NOT NULL,
	recipient_ai TEXT NOT NULL,
	trust_domain TEXT NOT NULL DEFAULT 'default',
	phase TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'NA',
	realtime BOOLEAN NOT NULL DEFAULT FALSE,
	task_type TEXT NOT NULL,
	task_summary TEXT NOT NULL,
	task_body TEXT NOT NULL DEFAULT '',
	inputs TEXT NOT NULL DEFAULT '{}',
	expected_outcome_kind TEXT NOT NULL DEFAULT 'NA',
	expected_artifact_mime TEXT NOT NULL DEFAULT 'NA',
	outcome_kind TEXT NOT NULL DEFAULT 'NA',
	outcome_text TEXT NOT NULL DEFAULT 'NA',
	artifact_location TEXT NOT NULL DEFAULT 'NA',
	artifact_pointer TEXT NOT NULL DEFAULT 'NA',
	artifact_checksum TEXT NOT NULL DEFAULT 'NA',
	artifact_size_bytes INTEGER NOT NULL DEFAULT 0,
	artifact_mime TEXT NOT NULL DEFAULT 'NA',
	escalation_class TEXT NOT NULL DEFAULT 'NA',
	escalation_reason TEXT NOT NULL DEFAULT 'NA',
	escalation_to TEXT NOT NULL DEFAULT 'NA',
	retry_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT,
	stored_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	read_at TEXT,
	archived_at TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (tenant_id, receipt_id)
);
CREATE INDEX IF NOT EXISTS idx_receipts_inbox ON receipts (tenant_id, recipient_ai, phase, stored_at DESC);
CREATE INDEX IF NOT EXISTS idx_receipts_task ON receipts (tenant_id, task_id, stored_at);
CREATE INDEX IF NOT EXISTS idx_receipts_chain ON receipts (tenant_id, caused_by_receipt_id);
`

func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("init receipts schema: %w", err)
	}
	return nil
}

const receiptColumns = `tenant_id, receipt_id, schema_version, task_id, parent_task_id,
	caused_by_receipt_id, dedupe_key, attempt, from_principal, for_principal,
	source_system, recipient_ai, trust_domain, phase, status, realtime,
	task_type, task_summary, task_body, inputs, expected_outcome_kind,
	expected_artifact_mime, outcome_kind, outcome_text, artifact_location,
	artifact_pointer, artifact_checksum, artifact_size_bytes, artifact_mime,
	escalation_class, escalation_reason, escalation_to, retry_requested,
	created_at, stored_at, started_at, completed_at, read_at, archived_at, metadata`

// Append validates and inserts the receipt. The ledger clock assigns
// stored_at; a missing receipt_id gets a fresh sortable id. A duplicate
// (tenant_id, receipt_id) returns ErrDuplicate, never a second row.
func (s *SQLLedger) Append(ctx context.Context, tenantID string, r *receipts.Receipt) (AppendResult, error) {
	r.Normalize()
	r.TenantID = tenantID
	if !receipts.IsSet(r.ReceiptID) {
		r.ReceiptID = ids.NewReceiptID()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = receipts.Now()
	}
	if details := r.Validate(); len(details) > 0 {
		return AppendResult{}, &ValidationFailedError{Details: details}
	}
	r.StoredAt = receipts.Now()

	inputs, err := json.Marshal(orEmpty(r.Inputs))
	if err != nil {
		return AppendResult{}, fmt.Errorf("marshal inputs: %w", err)
	}
	metadata, err := json.Marshal(orEmpty(r.Metadata))
	if err != nil {
		return AppendResult{}, fmt.Errorf("marshal metadata: %w", err)
	}

	query := `INSERT INTO receipts (` + receiptColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
		$31, $32, $33, $34, $35, $36, $37, $38, $39, $40)`
	_, err = s.db.ExecContext(ctx, query,
		r.TenantID, r.ReceiptID, r.SchemaVersion, r.TaskID, r.ParentTaskID,
		r.CausedByReceiptID, r.DedupeKey, r.Attempt, r.FromPrincipal, r.ForPrincipal,
		r.SourceSystem, r.RecipientAI, r.TrustDomain, string(r.Phase), string(r.Status), r.Realtime,
		r.TaskType, r.TaskSummary, r.TaskBody, string(inputs), string(r.ExpectedOutcomeKind),
		r.ExpectedArtifactMime, string(r.OutcomeKind), r.OutcomeText, r.ArtifactLocation,
		r.ArtifactPointer, r.ArtifactChecksum, r.ArtifactSizeBytes, r.ArtifactMime,
		string(r.EscalationClass), r.EscalationReason, r.EscalationTo, r.RetryRequested,
		nullable(r.CreatedAt), r.StoredAt, nullable(r.StartedAt), nullable(r.CompletedAt),
		nullable(r.ReadAt), nullable(r.ArchivedAt), string(metadata),
	)
	if err != nil {
		if sqldb.IsUniqueViolation(err) {
			return AppendResult{}, fmt.Errorf("%w: %s", ErrDuplicate, r.ReceiptID)
		}
		return AppendResult{}, fmt.Errorf("insert receipt: %w", err)
	}

	s.logger.InfoContext(ctx, "receipt stored",
		"tenant_id", tenantID,
		"receipt_id", r.ReceiptID,
		"task_id", r.TaskID,
		"phase", r.Phase,
	)
	return AppendResult{ReceiptID: r.ReceiptID, StoredAt: r.StoredAt, TenantID: tenantID}, nil
}

func (s *SQLLedger) Get(ctx context.Context, tenantID, receiptID string) (*receipts.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE tenant_id = $1 AND receipt_id = $2`
	row := s.db.QueryRowContext(ctx, query, tenantID, receiptID)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Inbox lists unarchived accepted receipts addressed to one agent, newest
// stored first. The limit is clamped to [1, 100].
func (s *SQLLedger) Inbox(ctx context.Context, tenantID, recipientAI string, limit int) ([]receipts.Receipt, error) {
	if limit < 1 {
		limit = defaultInboxLimit
	}
	if limit > maxInboxLimit {
		limit = maxInboxLimit
	}
	query := `SELECT ` + receiptColumns + ` FROM receipts
		WHERE tenant_id = $1 AND recipient_ai = $2 AND phase = 'accepted' AND archived_at IS NULL
		ORDER BY stored_at DESC LIMIT $3`
	return s.queryReceipts(ctx, query, tenantID, recipientAI, limit)
}

// Timeline lists every receipt for one task in stored_at order.
func (s *SQLLedger) Timeline(ctx context.Context, tenantID, taskID string, order TimelineOrder) ([]receipts.Receipt, error) {
	dir := "ASC"
	if order == OrderDesc {
		dir = "DESC"
	}
	query := `SELECT ` + receiptColumns + ` FROM receipts
		WHERE tenant_id = $1 AND task_id = $2 ORDER BY stored_at ` + dir
	return s.queryReceipts(ctx, query, tenantID, taskID)
}

// Chain walks caused_by_receipt_id edges forward from the root and returns
// the transitive closure in stored_at order. The traversal keeps a visited
// set and a depth bound even though well-formed data cannot cycle.
func (s *SQLLedger) Chain(ctx context.Context, tenantID, rootReceiptID string) ([]receipts.Receipt, error) {
	root, err := s.Get(ctx, tenantID, rootReceiptID)
	if err != nil {
		return nil, err
	}

	result := []receipts.Receipt{*root}
	visited := map[string]bool{root.ReceiptID: true}
	frontier := []string{root.ReceiptID}

	for depth := 0; depth < maxChainDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			children, err := s.queryReceipts(ctx,
				`SELECT `+receiptColumns+` FROM receipts
					WHERE tenant_id = $1 AND caused_by_receipt_id = $2 ORDER BY stored_at`,
				tenantID, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if visited[child.ReceiptID] {
					continue
				}
				visited[child.ReceiptID] = true
				result = append(result, child)
				next = append(next, child.ReceiptID)
			}
		}
		frontier = next
	}

	sort.Slice(result, func(i, j int) bool { return result[i].StoredAt < result[j].StoredAt })
	return result, nil
}

// Archive soft-hides a receipt from the inbox view. The only permitted
// mutation of a stored receipt. Returns ErrNotFound if the receipt is absent
// or already archived.
func (s *SQLLedger) Archive(ctx context.Context, tenantID, receiptID string) (string, error) {
	now := receipts.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET archived_at = $1
			WHERE tenant_id = $2 AND receipt_id = $3 AND archived_at IS NULL`,
		now, tenantID, receiptID)
	if err != nil {
		return "", fmt.Errorf("archive receipt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("archive receipt: %w", err)
	}
	if affected == 0 {
		return "", ErrNotFound
	}
	return now, nil
}

// Bootstrap assembles the session-resumption payload for one agent: its
// current inbox, the last few receipts it owns in any phase, and the ledger's
// advertised limits.
func (s *SQLLedger) Bootstrap(ctx context.Context, tenantID, agentName string) (*BootstrapResult, error) {
	inbox, err := s.Inbox(ctx, tenantID, agentName, defaultInboxLimit)
	if err != nil {
		return nil, err
	}
	recent, err := s.queryReceipts(ctx,
		`SELECT `+receiptColumns+` FROM receipts
			WHERE tenant_id = $1 AND recipient_ai = $2 ORDER BY stored_at DESC LIMIT $3`,
		tenantID, agentName, bootstrapRecent)
	if err != nil {
		return nil, err
	}
	return &BootstrapResult{
		Inbox:  inbox,
		Recent: recent,
		Config: map[string]any{
			"schema_version":   "1.0",
			"inbox_limit":      defaultInboxLimit,
			"recent_limit":     bootstrapRecent,
			"max_inputs_bytes": receipts.MaxInputsBytes,
		},
	}, nil
}

// Search filters by case-insensitive substring on task_summary plus scalar
// equality on the remaining fields.
func (s *SQLLedger) Search(ctx context.Context, tenantID string, q SearchQuery) ([]receipts.Receipt, error) {
	limit := q.Limit
	if limit < 1 {
		limit = defaultSearchLimit
	}
	if limit > maxInboxLimit {
		limit = maxInboxLimit
	}

	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE tenant_id = $1`
	args := []any{tenantID}
	n := 1
	add := func(clause string, value any) {
		n++
		query += fmt.Sprintf(" AND "+clause, n)
		args = append(args, value)
	}
	if q.Text != "" {
		add("LOWER(task_summary) LIKE '%%' || LOWER($%d) || '%%'", q.Text)
	}
	if q.RecipientAI != "" {
		add("recipient_ai = $%d", q.RecipientAI)
	}
	if q.TaskType != "" {
		add("task_type = $%d", q.TaskType)
	}
	if q.Phase != "" {
		add("phase = $%d", string(q.Phase))
	}
	n++
	query += fmt.Sprintf(" ORDER BY stored_at DESC LIMIT $%d", n)
	args = append(args, limit)

	return s.queryReceipts(ctx, query, args...)
}

func (s *SQLLedger) queryReceipts(ctx context.Context, query string, args ...any) ([]receipts.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]receipts.Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*receipts.Receipt, error) {
	var (
		r                 receipts.Receipt
		phase             string
		status            string
		expectedKind      string
		outcomeKind       string
		escalationClass   string
		inputs, metadata  string
		createdAt         sql.NullString
		startedAt         sql.NullString
		completedAt       sql.NullString
		readAt, archiveAt sql.NullString
	)
	err := row.Scan(
		&r.TenantID, &r.ReceiptID, &r.SchemaVersion, &r.TaskID, &r.ParentTaskID,
		&r.CausedByReceiptID, &r.DedupeKey, &r.Attempt, &r.FromPrincipal, &r.ForPrincipal,
		&r.SourceSystem, &r.RecipientAI, &r.TrustDomain, &phase, &status, &r.Realtime,
		&r.TaskType, &r.TaskSummary, &r.TaskBody, &inputs, &expectedKind,
		&r.ExpectedArtifactMime, &outcomeKind, &r.OutcomeText, &r.ArtifactLocation,
		&r.ArtifactPointer, &r.ArtifactChecksum, &r.ArtifactSizeBytes, &r.ArtifactMime,
		&escalationClass, &r.EscalationReason, &r.EscalationTo, &r.RetryRequested,
		&createdAt, &r.StoredAt, &startedAt, &completedAt,
		&readAt, &archiveAt, &metadata,
	)
	if err != nil {
		return nil, err
	}

	r.Phase = receipts.Phase(phase)
	r.Status = receipts.Status(status)
	r.ExpectedOutcomeKind = receipts.OutcomeKind(expectedKind)
	r.OutcomeKind = receipts.OutcomeKind(outcomeKind)
	r.EscalationClass = receipts.EscalationClass(escalationClass)
	r.CreatedAt = createdAt.String
	r.StartedAt = startedAt.String
	r.CompletedAt = completedAt.String
	r.ReadAt = readAt.String
	r.ArchivedAt = archiveAt.String

	if err := json.Unmarshal([]byte(inputs), &r.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs for %s: %w", r.ReceiptID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", r.ReceiptID, err)
	}
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
