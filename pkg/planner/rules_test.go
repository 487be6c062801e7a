package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectIntentType(t *testing.T) {
	cases := []struct {
		intent string
		want   string
	}{
		{"write a parser for the config format", "code.generate"},
		{"review the pull request", "code.review"},
		{"summarize this article", "text.summarize"},
		{"translate the docs to French", "text.translate"},
		{"research recent papers on leasing", "search"},
		{"draw a diagram of the system", "image.generate"},
		{"do the thing", "generic"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectIntentType(tc.intent), tc.intent)
	}
}

func TestEstimateComplexity(t *testing.T) {
	cases := []struct {
		intent string
		want   string
	}{
		{"just summarize this one paragraph", "simple"},
		{"summarize the quarterly report", "medium"},
		{"research all customer feedback and analyze every theme", "complex"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EstimateComplexity(tc.intent), tc.intent)
	}
}

func TestBuildSimplePlan(t *testing.T) {
	p := BuildPlan(Request{Intent: "just summarize this", PrincipalAI: "agent.main"})

	require.Len(t, p.Steps, 2)
	assert.Equal(t, StepQueueExecution, p.Steps[0].StepType)
	assert.Equal(t, StepEscalate, p.Steps[1].StepType)
	assert.Equal(t, []string{p.Steps[0].StepID}, p.Steps[1].DependsOn)
	assert.Equal(t, 0.9, p.Confidence)
	assert.NotEmpty(t, p.PlanID)
}

func TestBuildMediumPlan(t *testing.T) {
	p := BuildPlan(Request{Intent: "summarize the quarterly report", PrincipalAI: "agent.main"})

	require.Len(t, p.Steps, 4)
	assert.Equal(t, StepQueueExecution, p.Steps[0].StepType)
	assert.Equal(t, StepWaitFor, p.Steps[1].StepType)
	assert.Equal(t, StepAggregate, p.Steps[2].StepType)
	assert.Equal(t, StepEscalate, p.Steps[3].StepType)

	assert.Equal(t, []string{p.Steps[0].StepID}, p.Steps[1].WaitForStepIDs)
	assert.Equal(t, []string{p.Steps[1].StepID}, p.Steps[2].DependsOn)
	assert.Equal(t, []string{p.Steps[2].StepID}, p.Steps[3].DependsOn)
	assert.Equal(t, "principal", p.Steps[2].Executor)
}

func TestBuildComplexPlanPipeline(t *testing.T) {
	p := BuildPlan(Request{
		Intent:      "research all customer feedback and analyze every theme",
		PrincipalAI: "agent.main",
	})

	exec := p.QueueExecutionSteps()
	require.NotEmpty(t, exec)
	assert.GreaterOrEqual(t, len(exec), 2, "complex intents fan out")

	// The barrier waits for every execution step.
	var wait *Step
	for i := range p.Steps {
		if p.Steps[i].StepType == StepWaitFor {
			wait = &p.Steps[i]
		}
	}
	require.NotNil(t, wait)
	assert.Len(t, wait.WaitForStepIDs, len(exec))

	last := p.Steps[len(p.Steps)-1]
	assert.Equal(t, StepEscalate, last.StepType)
	assert.Equal(t, 0.7, p.Confidence)
	assert.NotEmpty(t, p.Notes)
}

func TestBuildComplexPlanSplitsConjunctions(t *testing.T) {
	p := BuildPlan(Request{
		Intent:      "analyze all sales data, research multiple markets",
		PrincipalAI: "agent.main",
	})

	exec := p.QueueExecutionSteps()
	require.Len(t, exec, 2)
	assert.Contains(t, exec[0].Description, "subtask 1")
	assert.Contains(t, exec[1].Description, "subtask 2")
}

func TestBuildPlanCarriesContext(t *testing.T) {
	p := BuildPlan(Request{
		Intent:      "just translate this page",
		PrincipalAI: "agent.main",
		Context:     map[string]any{"target_language": "de"},
	})

	exec := p.QueueExecutionSteps()
	require.Len(t, exec, 1)
	assert.Equal(t, "de", exec[0].Params["target_language"])
	assert.Equal(t, "just translate this page", exec[0].Params["intent"])
}

func TestStepIDsAreUnique(t *testing.T) {
	p := BuildPlan(Request{
		Intent:      "research all customer feedback and analyze every theme",
		PrincipalAI: "agent.main",
	})

	seen := make(map[string]bool)
	for _, s := range p.Steps {
		assert.False(t, seen[s.StepID], "duplicate step id %s", s.StepID)
		seen[s.StepID] = true
	}
}
