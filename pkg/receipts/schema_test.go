package receipts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEnvelopeAcceptsWellFormed(t *testing.T) {
	raw, err := json.Marshal(validAccepted())
	require.NoError(t, err)
	assert.Empty(t, ValidateEnvelope(raw))
}

func TestValidateEnvelopeRejectsMalformedJSON(t *testing.T) {
	errs := ValidateEnvelope([]byte("{not json"))
	require.Len(t, errs, 1)
	assert.Equal(t, "json", errs[0].Constraint)
}

func TestValidateEnvelopeRejectsMissingRequired(t *testing.T) {
	errs := ValidateEnvelope([]byte(`{"task_id": "T-1"}`))
	assert.NotEmpty(t, errs)
}

func TestValidateEnvelopeRejectsWrongTypes(t *testing.T) {
	raw := []byte(`{
		"task_id": "T-1",
		"from_principal": "a",
		"for_principal": "b",
		"source_system": "c",
		"recipient_ai": "d",
		"phase": "accepted",
		"task_type": "demo",
		"task_summary": "ok",
		"attempt": "three"
	}`)
	errs := ValidateEnvelope(raw)
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Field == "attempt" {
			found = true
		}
	}
	assert.True(t, found, "expected a violation on attempt, got %v", errs)
}

func TestValidateEnvelopeRejectsBadPhase(t *testing.T) {
	raw := []byte(`{
		"task_id": "T-1",
		"from_principal": "a",
		"for_principal": "b",
		"source_system": "c",
		"recipient_ai": "d",
		"phase": "pending",
		"task_type": "demo",
		"task_summary": "ok"
	}`)
	assert.NotEmpty(t, ValidateEnvelope(raw))
}
