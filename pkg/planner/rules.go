package planner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Mindburn-Labs/fabric/pkg/ids"
)

// intentPattern maps a keyword pattern to a task type. Order matters: the
// first match wins, so the more specific patterns come first.
type intentPattern struct {
	re       *regexp.Regexp
	taskType string
}

var intentPatterns = []intentPattern{
	{regexp.MustCompile(`review|check|analyze code`), "code.review"},
	{regexp.MustCompile(`refactor|improve|optimize code`), "code.refactor"},
	{regexp.MustCompile(`generate image|create image|draw`), "image.generate"},
	{regexp.MustCompile(`generate|create|write|implement`), "code.generate"},
	{regexp.MustCompile(`analyze|examine|investigate data`), "data.analyze"},
	{regexp.MustCompile(`transform|convert|process data`), "data.transform"},
	{regexp.MustCompile(`summarize|summary|tldr`), "text.summarize"},
	{regexp.MustCompile(`translate|translation`), "text.translate"},
	{regexp.MustCompile(`search|find|lookup|research`), "search"},
}

// DetectIntentType returns the primary task type for an intent, or
// "generic" when nothing matches.
func DetectIntentType(intent string) string {
	lower := strings.ToLower(intent)
	for _, p := range intentPatterns {
		if p.re.MatchString(lower) {
			return p.taskType
		}
	}
	return "generic"
}

var complexIndicators = []string{
	"multiple", "several", "all", "entire", "complete",
	"analyze", "research", "comprehensive", "full",
}

var simpleIndicators = []string{
	"single", "one", "simple", "quick", "just",
}

// EstimateComplexity buckets an intent into simple, medium, or complex.
func EstimateComplexity(intent string) string {
	lower := strings.ToLower(intent)

	complexScore := 0
	for _, w := range complexIndicators {
		if strings.Contains(lower, w) {
			complexScore++
		}
	}
	simpleScore := 0
	for _, w := range simpleIndicators {
		if strings.Contains(lower, w) {
			simpleScore++
		}
	}

	switch {
	case complexScore > simpleScore+1:
		return "complex"
	case simpleScore > complexScore:
		return "simple"
	default:
		return "medium"
	}
}

// BuildPlan generates a delegation plan from an intent. Rule-based: the
// complexity bucket picks the plan shape.
func BuildPlan(req Request) *Plan {
	taskType := DetectIntentType(req.Intent)

	switch EstimateComplexity(req.Intent) {
	case "simple":
		return buildSimplePlan(req, taskType)
	case "complex":
		return buildComplexPlan(req, taskType)
	default:
		return buildMediumPlan(req, taskType)
	}
}

func stepParams(req Request) map[string]any {
	params := map[string]any{"intent": req.Intent}
	for k, v := range req.Context {
		params[k] = v
	}
	return params
}

// buildSimplePlan: one execution step plus a completion report.
func buildSimplePlan(req Request, taskType string) *Plan {
	execute := Step{
		StepID:                  ids.NewStepID(),
		StepType:                StepQueueExecution,
		Description:             fmt.Sprintf("Execute %s task", taskType),
		TaskType:                taskType,
		Params:                  stepParams(req),
		EstimatedRuntimeSeconds: 60,
	}
	report := Step{
		StepID:         ids.NewStepID(),
		StepType:       StepEscalate,
		Description:    "Report completion",
		ReportSummary:  "Completed: " + req.Intent,
		Recommendation: "Review results",
		DependsOn:      []string{execute.StepID},
	}

	return &Plan{
		PlanID:                       ids.NewPlanID(),
		PrincipalAI:                  req.PrincipalAI,
		Intent:                       req.Intent,
		Confidence:                   0.9,
		Steps:                        []Step{execute, report},
		EstimatedTotalRuntimeSeconds: 90,
	}
}

// buildMediumPlan: one async execution, then wait, aggregate, report.
func buildMediumPlan(req Request, taskType string) *Plan {
	execute := Step{
		StepID:                  ids.NewStepID(),
		StepType:                StepQueueExecution,
		Description:             fmt.Sprintf("Execute primary %s task", taskType),
		TaskType:                taskType,
		Params:                  stepParams(req),
		EstimatedRuntimeSeconds: 120,
	}
	wait := Step{
		StepID:         ids.NewStepID(),
		StepType:       StepWaitFor,
		Description:    "Wait for primary task completion",
		WaitForStepIDs: []string{execute.StepID},
	}
	aggregate := Step{
		StepID:                ids.NewStepID(),
		StepType:              StepAggregate,
		Description:           "Synthesize results",
		AggregateStepIDs:      []string{execute.StepID},
		SynthesisInstructions: "Combine and summarize the results",
		Executor:              "principal",
		DependsOn:             []string{wait.StepID},
	}
	report := Step{
		StepID:         ids.NewStepID(),
		StepType:       StepEscalate,
		Description:    "Report completion with synthesis",
		ReportSummary:  "Completed: " + req.Intent,
		Recommendation: "Review synthesized results",
		DependsOn:      []string{aggregate.StepID},
	}

	return &Plan{
		PlanID:                       ids.NewPlanID(),
		PrincipalAI:                  req.PrincipalAI,
		Intent:                       req.Intent,
		Confidence:                   0.8,
		Steps:                        []Step{execute, wait, aggregate, report},
		EstimatedTotalRuntimeSeconds: 180,
	}
}

// buildComplexPlan: parallel subtasks, a barrier, aggregation, report.
func buildComplexPlan(req Request, taskType string) *Plan {
	subtasks := splitIntoSubtasks(req.Intent, taskType)

	var steps []Step
	var subtaskIDs []string
	totalRuntime := 0

	for i, sub := range subtasks {
		step := Step{
			StepID:                  ids.NewStepID(),
			StepType:                StepQueueExecution,
			Description:             fmt.Sprintf("Execute subtask %d: %s", i+1, sub.description),
			TaskType:                sub.taskType,
			Params:                  sub.params,
			EstimatedRuntimeSeconds: sub.estimatedTime,
		}
		subtaskIDs = append(subtaskIDs, step.StepID)
		totalRuntime += sub.estimatedTime
		steps = append(steps, step)
	}

	wait := Step{
		StepID:         ids.NewStepID(),
		StepType:       StepWaitFor,
		Description:    "Wait for all subtasks to complete",
		WaitForStepIDs: subtaskIDs,
	}
	aggregate := Step{
		StepID:                ids.NewStepID(),
		StepType:              StepAggregate,
		Description:           "Synthesize all subtask results",
		AggregateStepIDs:      subtaskIDs,
		SynthesisInstructions: "Combine results from all subtasks into a coherent output",
		Executor:              "principal",
		DependsOn:             []string{wait.StepID},
	}
	report := Step{
		StepID:         ids.NewStepID(),
		StepType:       StepEscalate,
		Description:    "Report completion with full synthesis",
		ReportSummary:  "Completed complex task: " + req.Intent,
		Recommendation: "Review comprehensive results",
		DependsOn:      []string{aggregate.StepID},
	}
	steps = append(steps, wait, aggregate, report)

	return &Plan{
		PlanID:                       ids.NewPlanID(),
		PrincipalAI:                  req.PrincipalAI,
		Intent:                       req.Intent,
		Confidence:                   0.7,
		Steps:                        steps,
		EstimatedTotalRuntimeSeconds: totalRuntime + 60,
		Notes:                        "Complex plan with parallel execution",
	}
}

type subtask struct {
	description   string
	taskType      string
	params        map[string]any
	estimatedTime int
}

var subtaskSplitter = regexp.MustCompile(`,| and `)

// splitIntoSubtasks decomposes a complex intent. Explicit conjunctions
// split directly; "all"/"multiple" phrasing becomes a gather/analyze/generate
// pipeline; everything else gets a primary+verify pair.
func splitIntoSubtasks(intent, taskType string) []subtask {
	lower := strings.ToLower(intent)

	if strings.Contains(lower, " and ") || strings.Contains(intent, ",") {
		var subs []subtask
		for i, part := range subtaskSplitter.Split(lower, -1) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			subs = append(subs, subtask{
				description:   part,
				taskType:      DetectIntentType(part),
				params:        map[string]any{"subtask": part, "part_number": i + 1},
				estimatedTime: 120,
			})
		}
		if len(subs) > 0 {
			return subs
		}
	}

	for _, word := range []string{"all", "multiple", "several", "every"} {
		if strings.Contains(lower, word) {
			gatherType := taskType
			if strings.Contains(lower, "search") {
				gatherType = "search"
			}
			return []subtask{
				{
					description:   "Gather data for: " + intent,
					taskType:      gatherType,
					params:        map[string]any{"phase": "gather", "intent": intent},
					estimatedTime: 180,
				},
				{
					description:   "Analyze gathered data",
					taskType:      "data.analyze",
					params:        map[string]any{"phase": "analyze", "intent": intent},
					estimatedTime: 120,
				},
				{
					description:   "Generate final output",
					taskType:      taskType,
					params:        map[string]any{"phase": "generate", "intent": intent},
					estimatedTime: 120,
				},
			}
		}
	}

	return []subtask{
		{
			description:   "Primary task: " + intent,
			taskType:      taskType,
			params:        map[string]any{"intent": intent},
			estimatedTime: 180,
		},
		{
			description:   "Verify and validate results",
			taskType:      "generic",
			params:        map[string]any{"phase": "verify", "intent": intent},
			estimatedTime: 60,
		},
	}
}
