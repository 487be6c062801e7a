package receipts

import (
	"encoding/json"
	"fmt"
)

// Field size ceilings, enforced at the ledger boundary for every entry point.
const (
	MaxInputsBytes      = 64 * 1024
	MaxMetadataBytes    = 16 * 1024
	MaxTaskBodyBytes    = 100 * 1024
	MaxOutcomeTextBytes = 100 * 1024
)

// ValidationError describes one violated constraint on a receipt field.
type ValidationError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func violation(field, constraint, message string) ValidationError {
	return ValidationError{Field: field, Constraint: constraint, Message: message}
}

var validStatuses = map[Status]bool{
	StatusNA: true, StatusSuccess: true, StatusFailure: true, StatusCanceled: true,
}

var validOutcomeKinds = map[OutcomeKind]bool{
	OutcomeNA: true, OutcomeNone: true, OutcomeResponseText: true,
	OutcomeArtifactPointer: true, OutcomeMixed: true,
}

var validEscalationClasses = map[EscalationClass]bool{
	EscalationNA: true, EscalationOwner: true, EscalationCapability: true,
	EscalationTrust: true, EscalationPolicy: true, EscalationScope: true,
	EscalationOther: true,
}

// Validate checks the receipt against every documented invariant: required
// fields, enum membership, phase constraints, the escalate routing invariant,
// retry accounting, and size ceilings. Validation failures are final and must
// never be retried by callers.
func (r *Receipt) Validate() []ValidationError {
	var errs []ValidationError

	for field, value := range map[string]string{
		"task_id":        r.TaskID,
		"from_principal": r.FromPrincipal,
		"for_principal":  r.ForPrincipal,
		"source_system":  r.SourceSystem,
		"recipient_ai":   r.RecipientAI,
		"task_type":      r.TaskType,
		"task_summary":   r.TaskSummary,
	} {
		if !IsSet(value) {
			errs = append(errs, violation(field, "required", field+" is required"))
		}
	}

	switch r.Phase {
	case PhaseAccepted, PhaseComplete, PhaseEscalate:
	default:
		errs = append(errs, violation("phase", "enum",
			fmt.Sprintf("phase must be one of accepted, complete, escalate; got %q", r.Phase)))
		return errs
	}
	if !validStatuses[r.Status] {
		errs = append(errs, violation("status", "enum", fmt.Sprintf("invalid status %q", r.Status)))
	}
	if !validOutcomeKinds[r.OutcomeKind] {
		errs = append(errs, violation("outcome_kind", "enum", fmt.Sprintf("invalid outcome_kind %q", r.OutcomeKind)))
	}
	if !validOutcomeKinds[r.ExpectedOutcomeKind] {
		errs = append(errs, violation("expected_outcome_kind", "enum",
			fmt.Sprintf("invalid expected_outcome_kind %q", r.ExpectedOutcomeKind)))
	}
	if !validEscalationClasses[r.EscalationClass] {
		errs = append(errs, violation("escalation_class", "enum",
			fmt.Sprintf("invalid escalation_class %q", r.EscalationClass)))
	}
	if r.Attempt < 0 {
		errs = append(errs, violation("attempt", "min", "attempt must be >= 0"))
	}
	if r.ArtifactSizeBytes < 0 {
		errs = append(errs, violation("artifact_size_bytes", "min", "artifact_size_bytes must be >= 0"))
	}

	errs = append(errs, r.validatePhase()...)

	if r.RetryRequested && r.Attempt < 1 {
		errs = append(errs, violation("attempt", "retry_accounting",
			"attempt must be >= 1 when retry_requested is true"))
	}

	errs = append(errs, r.validateSizes()...)
	return errs
}

func (r *Receipt) validatePhase() []ValidationError {
	var errs []ValidationError

	switch r.Phase {
	case PhaseAccepted:
		if r.Status != StatusNA {
			errs = append(errs, violation("status", "phase_accepted", "status must be NA for accepted phase"))
		}
		if IsSet(r.CompletedAt) {
			errs = append(errs, violation("completed_at", "phase_accepted", "completed_at must be unset for accepted phase"))
		}
		if r.TaskSummary == "TBD" {
			errs = append(errs, violation("task_summary", "phase_accepted", "task_summary must not be TBD for accepted phase"))
		}
		if r.OutcomeKind != OutcomeNA {
			errs = append(errs, violation("outcome_kind", "phase_accepted", "outcome_kind must be NA for accepted phase"))
		}
		for field, value := range map[string]string{
			"artifact_pointer":  r.ArtifactPointer,
			"artifact_location": r.ArtifactLocation,
			"artifact_mime":     r.ArtifactMime,
		} {
			if IsSet(value) {
				errs = append(errs, violation(field, "phase_accepted", field+" must be NA for accepted phase"))
			}
		}
		if r.EscalationClass != EscalationNA {
			errs = append(errs, violation("escalation_class", "phase_accepted", "escalation_class must be NA for accepted phase"))
		}
		if IsSet(r.EscalationTo) {
			errs = append(errs, violation("escalation_to", "phase_accepted", "escalation_to must be NA for accepted phase"))
		}
		if r.RetryRequested {
			errs = append(errs, violation("retry_requested", "phase_accepted", "retry_requested must be false for accepted phase"))
		}

	case PhaseComplete:
		switch r.Status {
		case StatusSuccess, StatusFailure, StatusCanceled:
		default:
			errs = append(errs, violation("status", "phase_complete",
				"status must be success, failure, or canceled for complete phase"))
		}
		if !IsSet(r.CompletedAt) {
			errs = append(errs, violation("completed_at", "phase_complete", "completed_at is required for complete phase"))
		}
		if r.OutcomeKind == OutcomeNA {
			errs = append(errs, violation("outcome_kind", "phase_complete", "outcome_kind must not be NA for complete phase"))
		}
		if r.EscalationClass != EscalationNA {
			errs = append(errs, violation("escalation_class", "phase_complete", "escalation_class must be NA for complete phase"))
		}
		if r.OutcomeKind == OutcomeArtifactPointer || r.OutcomeKind == OutcomeMixed {
			for field, value := range map[string]string{
				"artifact_pointer":  r.ArtifactPointer,
				"artifact_location": r.ArtifactLocation,
				"artifact_mime":     r.ArtifactMime,
			} {
				if !IsSet(value) {
					errs = append(errs, violation(field, "phase_complete",
						field+" required when outcome_kind is artifact_pointer or mixed"))
				}
			}
		}

	case PhaseEscalate:
		if r.Status != StatusNA {
			errs = append(errs, violation("status", "phase_escalate", "status must be NA for escalate phase"))
		}
		if r.EscalationClass == EscalationNA {
			errs = append(errs, violation("escalation_class", "phase_escalate",
				"escalation_class is required for escalate phase"))
		}
		if !IsSet(r.EscalationReason) || r.EscalationReason == "TBD" {
			errs = append(errs, violation("escalation_reason", "phase_escalate",
				"escalation_reason must be provided for escalate phase"))
		}
		if !IsSet(r.EscalationTo) {
			errs = append(errs, violation("escalation_to", "phase_escalate",
				"escalation_to is required for escalate phase"))
		} else if r.RecipientAI != r.EscalationTo {
			// Routing invariant: an escalate receipt is owned by its target.
			errs = append(errs, violation("recipient_ai", "routing",
				"recipient_ai must equal escalation_to for escalate phase"))
		}
	}

	return errs
}

func (r *Receipt) validateSizes() []ValidationError {
	var errs []ValidationError

	if len(r.TaskBody) > MaxTaskBodyBytes {
		errs = append(errs, violation("task_body", "max_size",
			fmt.Sprintf("task_body exceeds %d bytes", MaxTaskBodyBytes)))
	}
	if len(r.OutcomeText) > MaxOutcomeTextBytes {
		errs = append(errs, violation("outcome_text", "max_size",
			fmt.Sprintf("outcome_text exceeds %d bytes", MaxOutcomeTextBytes)))
	}
	if n := encodedSize(r.Inputs); n > MaxInputsBytes {
		errs = append(errs, violation("inputs", "max_size",
			fmt.Sprintf("inputs exceeds %d bytes when encoded", MaxInputsBytes)))
	}
	if n := encodedSize(r.Metadata); n > MaxMetadataBytes {
		errs = append(errs, violation("metadata", "max_size",
			fmt.Sprintf("metadata exceeds %d bytes when encoded", MaxMetadataBytes)))
	}
	return errs
}

func encodedSize(m map[string]any) int {
	if len(m) == 0 {
		return 0
	}
	b, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(b)
}
