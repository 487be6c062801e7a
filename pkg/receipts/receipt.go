// Package receipts defines the receipt envelope: the atomic, immutable audit
// record of one lifecycle event for one task. Everything the fabric knows
// about an obligation is expressed as a chain of these records.
package receipts

// Phase is the lifecycle category of a receipt.
type Phase string

const (
	PhaseAccepted Phase = "accepted"
	PhaseComplete Phase = "complete"
	PhaseEscalate Phase = "escalate"
)

// Status is the completion status carried by complete-phase receipts.
type Status string

const (
	StatusNA       Status = NA
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
	StatusCanceled Status = "canceled"
)

// OutcomeKind describes what a completed task produced.
type OutcomeKind string

const (
	OutcomeNA              OutcomeKind = NA
	OutcomeNone            OutcomeKind = "none"
	OutcomeResponseText    OutcomeKind = "response_text"
	OutcomeArtifactPointer OutcomeKind = "artifact_pointer"
	OutcomeMixed           OutcomeKind = "mixed"
)

// EscalationClass categorizes why ownership of a task is being transferred.
type EscalationClass string

const (
	EscalationNA         EscalationClass = NA
	EscalationOwner      EscalationClass = "owner"
	EscalationCapability EscalationClass = "capability"
	EscalationTrust      EscalationClass = "trust"
	EscalationPolicy     EscalationClass = "policy"
	EscalationScope      EscalationClass = "scope"
	EscalationOther      EscalationClass = "other"
)

// Receipt is the wire and storage representation of one lifecycle event.
//
// Unset string slots hold the sentinel "NA" so SQL predicates stay simple;
// timestamps are fixed-width RFC 3339 UTC strings and empty when unset.
type Receipt struct {
	SchemaVersion string `json:"schema_version"`

	// Identity
	TenantID  string `json:"tenant_id"`
	ReceiptID string `json:"receipt_id"`

	// Correlation and chain
	TaskID            string `json:"task_id"`
	ParentTaskID      string `json:"parent_task_id"`
	CausedByReceiptID string `json:"caused_by_receipt_id"`
	DedupeKey         string `json:"dedupe_key"`
	Attempt           int    `json:"attempt"`

	// Routing
	FromPrincipal string `json:"from_principal"`
	ForPrincipal  string `json:"for_principal"`
	SourceSystem  string `json:"source_system"`
	RecipientAI   string `json:"recipient_ai"`
	TrustDomain   string `json:"trust_domain"`

	// Phase and status
	Phase    Phase  `json:"phase"`
	Status   Status `json:"status"`
	Realtime bool   `json:"realtime"`

	// Task definition
	TaskType             string         `json:"task_type"`
	TaskSummary          string         `json:"task_summary"`
	TaskBody             string         `json:"task_body"`
	Inputs               map[string]any `json:"inputs,omitempty"`
	ExpectedOutcomeKind  OutcomeKind    `json:"expected_outcome_kind"`
	ExpectedArtifactMime string         `json:"expected_artifact_mime"`

	// Outcome and artifacts
	OutcomeKind       OutcomeKind `json:"outcome_kind"`
	OutcomeText       string      `json:"outcome_text"`
	ArtifactLocation  string      `json:"artifact_location"`
	ArtifactPointer   string      `json:"artifact_pointer"`
	ArtifactChecksum  string      `json:"artifact_checksum"`
	ArtifactSizeBytes int64       `json:"artifact_size_bytes"`
	ArtifactMime      string      `json:"artifact_mime"`

	// Escalation
	EscalationClass  EscalationClass `json:"escalation_class"`
	EscalationReason string          `json:"escalation_reason"`
	EscalationTo     string          `json:"escalation_to"`
	RetryRequested   bool            `json:"retry_requested"`

	// Timestamps (created_at is the issuer clock, stored_at the ledger clock)
	CreatedAt   string `json:"created_at,omitempty"`
	StoredAt    string `json:"stored_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	ReadAt      string `json:"read_at,omitempty"`
	ArchivedAt  string `json:"archived_at,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Normalize fills schema defaults on a decoded receipt: version and trust
// domain, NA sentinels for unset string slots, NA for unset enums. It never
// touches fields that already carry a value.
func (r *Receipt) Normalize() {
	if r.SchemaVersion == "" {
		r.SchemaVersion = "1.0"
	}
	if r.TrustDomain == "" {
		r.TrustDomain = "default"
	}
	for _, p := range []*string{
		&r.ParentTaskID, &r.CausedByReceiptID, &r.DedupeKey,
		&r.ExpectedArtifactMime, &r.OutcomeText,
		&r.ArtifactLocation, &r.ArtifactPointer, &r.ArtifactChecksum,
		&r.ArtifactMime, &r.EscalationReason, &r.EscalationTo,
	} {
		if *p == "" {
			*p = NA
		}
	}
	if r.Status == "" {
		r.Status = StatusNA
	}
	if r.ExpectedOutcomeKind == "" {
		r.ExpectedOutcomeKind = OutcomeNA
	}
	if r.OutcomeKind == "" {
		r.OutcomeKind = OutcomeNA
	}
	if r.EscalationClass == "" {
		r.EscalationClass = EscalationNA
	}
}
