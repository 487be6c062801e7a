package receipts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is the structural contract for inbound receipt JSON.
// Cross-field phase rules live in Validate; the schema rejects wrong shapes
// before the envelope is decoded into a Receipt.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["task_id", "from_principal", "for_principal", "source_system", "recipient_ai", "phase", "task_type", "task_summary"],
  "properties": {
    "schema_version":         {"type": "string"},
    "tenant_id":              {"type": "string"},
    "receipt_id":             {"type": "string"},
    "task_id":                {"type": "string", "minLength": 1},
    "parent_task_id":         {"type": "string"},
    "caused_by_receipt_id":   {"type": "string"},
    "dedupe_key":             {"type": "string"},
    "attempt":                {"type": "integer", "minimum": 0},
    "from_principal":         {"type": "string", "minLength": 1},
    "for_principal":          {"type": "string", "minLength": 1},
    "source_system":          {"type": "string", "minLength": 1},
    "recipient_ai":           {"type": "string", "minLength": 1},
    "trust_domain":           {"type": "string"},
    "phase":                  {"enum": ["accepted", "complete", "escalate"]},
    "status":                 {"enum": ["NA", "success", "failure", "canceled"]},
    "realtime":               {"type": "boolean"},
    "task_type":              {"type": "string", "minLength": 1},
    "task_summary":           {"type": "string", "minLength": 1},
    "task_body":              {"type": "string"},
    "inputs":                 {"type": "object"},
    "expected_outcome_kind":  {"enum": ["NA", "none", "response_text", "artifact_pointer", "mixed"]},
    "expected_artifact_mime": {"type": "string"},
    "outcome_kind":           {"enum": ["NA", "none", "response_text", "artifact_pointer", "mixed"]},
    "outcome_text":           {"type": "string"},
    "artifact_location":      {"type": "string"},
    "artifact_pointer":       {"type": "string"},
    "artifact_checksum":      {"type": "string"},
    "artifact_size_bytes":    {"type": "integer", "minimum": 0},
    "artifact_mime":          {"type": "string"},
    "escalation_class":       {"enum": ["NA", "owner", "capability", "trust", "policy", "scope", "other"]},
    "escalation_reason":      {"type": "string"},
    "escalation_to":          {"type": "string"},
    "retry_requested":        {"type": "boolean"},
    "created_at":             {"type": ["string", "null"]},
    "stored_at":              {"type": ["string", "null"]},
    "started_at":             {"type": ["string", "null"]},
    "completed_at":           {"type": ["string", "null"]},
    "read_at":                {"type": ["string", "null"]},
    "archived_at":            {"type": ["string", "null"]},
    "metadata":               {"type": "object"}
  }
}`

var compiledEnvelope = mustCompileEnvelope()

func mustCompileEnvelope() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("receipt-envelope.json", strings.NewReader(envelopeSchema)); err != nil {
		panic(fmt.Sprintf("receipt envelope schema: %v", err))
	}
	sch, err := c.Compile("receipt-envelope.json")
	if err != nil {
		panic(fmt.Sprintf("receipt envelope schema: %v", err))
	}
	return sch
}

// ValidateEnvelope checks raw receipt JSON against the structural schema.
// Returns field-level violations suitable for a validation_failed response.
func ValidateEnvelope(raw []byte) []ValidationError {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []ValidationError{violation("", "json", "request body is not valid JSON")}
	}
	if err := compiledEnvelope.Validate(doc); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return []ValidationError{violation("", "schema", err.Error())}
		}
		return flattenSchemaError(ve)
	}
	return nil
}

// flattenSchemaError reports leaf causes only; intermediate nodes restate
// their children.
func flattenSchemaError(ve *jsonschema.ValidationError) []ValidationError {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		return []ValidationError{violation(field, "schema", ve.Message)}
	}
	var errs []ValidationError
	for _, cause := range ve.Causes {
		errs = append(errs, flattenSchemaError(cause)...)
	}
	return errs
}
