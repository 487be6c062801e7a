// Package planner turns a natural-language intent into a structured
// delegation plan: a DAG of steps whose queue_execution members are
// submitted to the coordinator. Other step kinds are stored and returned
// but never actuated here; interpreting them is the principal's job.
package planner

import "errors"

// StepType is the kind of work a plan step represents.
type StepType string

const (
	StepQueueExecution StepType = "queue_execution" // queue work via the coordinator
	StepCallWorker     StepType = "call_worker"     // direct worker call (fast path)
	StepWaitFor        StepType = "wait_for"        // wait for async completion
	StepAggregate      StepType = "aggregate"       // synthesize results
	StepEscalate       StepType = "escalate"        // report upward
)

// Plan statuses.
const (
	PlanCreated   = "created"
	PlanExecuting = "executing"
	PlanCompleted = "completed"
)

var (
	ErrNotFound = errors.New("plan not found")
	// ErrInvalid marks request-shape failures so the HTTP boundary can
	// answer 400 instead of 500.
	ErrInvalid = errors.New("invalid request")
)

// Step is a single node in a delegation plan.
type Step struct {
	StepID      string   `json:"step_id"`
	StepType    StepType `json:"step_type"`
	Description string   `json:"description"`

	// queue_execution / call_worker
	WorkerID                string         `json:"worker_id,omitempty"`
	TaskType                string         `json:"task_type,omitempty"`
	Params                  map[string]any `json:"params,omitempty"`
	EstimatedRuntimeSeconds int            `json:"estimated_runtime_seconds,omitempty"`

	// wait_for
	WaitForStepIDs []string `json:"wait_for_step_ids,omitempty"`

	// aggregate
	AggregateStepIDs      []string `json:"aggregate_step_ids,omitempty"`
	SynthesisInstructions string   `json:"synthesis_instructions,omitempty"`
	Executor              string   `json:"executor,omitempty"` // "principal" or worker_id

	// escalate
	ReportSummary  string `json:"report_summary,omitempty"`
	Recommendation string `json:"recommendation,omitempty"`

	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is a complete delegation plan.
type Plan struct {
	PlanID      string  `json:"plan_id"`
	TenantID    string  `json:"tenant_id"`
	PrincipalAI string  `json:"principal_ai"`
	Intent      string  `json:"intent"`
	Confidence  float64 `json:"confidence"`
	Steps       []Step  `json:"steps"`

	EstimatedTotalRuntimeSeconds int    `json:"estimated_total_runtime_seconds,omitempty"`
	Notes                        string `json:"notes,omitempty"`

	CausedByReceiptID string `json:"caused_by_receipt_id,omitempty"`
	ParentTaskID      string `json:"parent_task_id,omitempty"`

	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// QueueExecutionSteps returns the steps the coordinator will run.
func (p *Plan) QueueExecutionSteps() []Step {
	var out []Step
	for _, s := range p.Steps {
		if s.StepType == StepQueueExecution {
			out = append(out, s)
		}
	}
	return out
}

// Request is an inbound plan-creation request.
type Request struct {
	Intent      string         `json:"intent"`
	PrincipalAI string         `json:"principal_ai"`
	Context     map[string]any `json:"context,omitempty"`
	Constraints []string       `json:"constraints,omitempty"`

	CausedByReceiptID string `json:"caused_by_receipt_id,omitempty"`
	ParentTaskID      string `json:"parent_task_id,omitempty"`
}

// Worker is one registered worker in the capability registry.
type Worker struct {
	WorkerID                string   `json:"worker_id"`
	TenantID                string   `json:"tenant_id"`
	WorkerType              string   `json:"worker_type"`
	Capabilities            []string `json:"capabilities"`
	TaskTypes               []string `json:"task_types"`
	Description             string   `json:"description,omitempty"`
	Endpoint                string   `json:"endpoint,omitempty"`
	IsAsync                 bool     `json:"is_async"`
	EstimatedRuntimeSeconds int      `json:"estimated_runtime_seconds"`
	LastSeen                string   `json:"last_seen,omitempty"`
	Status                  string   `json:"status"`
}
