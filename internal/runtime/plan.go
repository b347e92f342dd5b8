// Plan Mode support: a linear, user-facing execution plan produced by the
// LLM and confirmed before execution, distinct from the DAG Scheduler's
// dag.Plan input — ExecutionPlan is the human-readable proposal; dag.Plan
// is the node graph each confirmed step still runs through.
package runtime

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// StepStatus is a PlanStep's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// PlanStep is one entry in a human-in-the-loop ExecutionPlan.
type PlanStep struct {
	Index     int        `json:"index"`
	Description string   `json:"description"`
	ToolHint  string      `json:"tool_hint,omitempty"`
	Status    StepStatus  `json:"status"`
	Result    string      `json:"result,omitempty"`
}

// ExecutionPlan is the ordered, linear plan the LLM proposes for Plan Mode,
// distinct from dag.Plan, which is the Scheduler's input.
type ExecutionPlan struct {
	Goal           string     `json:"goal"`
	Steps          []PlanStep `json:"steps"`
	EstimatedTools []string   `json:"estimated_tools,omitempty"`
}

// Progress reports how many steps have completed out of the total.
func (p *ExecutionPlan) Progress() (completed, total int) {
	for _, s := range p.Steps {
		if s.Status == StepCompleted {
			completed++
		}
	}
	return completed, len(p.Steps)
}

// complexKeywords and simpleKeywords drive the auto plan-gating heuristic,
// distinguishing analytical/aggregate/predictive work from simple lookups.
var complexKeywords = []string{
	"analyze", "compare", "statistics", "trend", "predict", "train", "model",
	"multiple", "all", "every", "batch", "aggregate", "report", "visualize",
	"correlation", "join", "group by", "regression", "classify", "cluster",
	"machine learning", "deep learning", "optimize",
}

var simpleKeywords = []string{
	"show", "list", "describe", "how many", "what are", "what is", "count", "query", "get",
}

// AssessComplexity scores userInput by combining complex/simple keyword
// counts, an input-length factor, and a multi-clause punctuation factor.
// Returns "complex", "simple", or "medium".
func AssessComplexity(userInput string) string {
	lower := strings.ToLower(userInput)

	complexCount := 0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			complexCount++
		}
	}
	simpleCount := 0
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			simpleCount++
		}
	}

	lengthFactor := len(userInput) > 100
	multiTask := strings.Count(userInput, ",") > 2 ||
		strings.Count(userInput, "?") > 1

	switch {
	case complexCount >= 2 || (complexCount >= 1 && (lengthFactor || multiTask)):
		return "complex"
	case simpleCount >= 1 && complexCount == 0:
		return "simple"
	default:
		return "medium"
	}
}

// ShouldPlan implements the plan-gating rule for mode "auto": plan only
// when the turn scores "complex". off/on callers should not call this;
// they short-circuit directly.
func ShouldPlan(userInput string) bool {
	return AssessComplexity(userInput) == "complex"
}

// PlanPrompt builds the prompt asking the LLM to emit a strict-JSON plan
// for userInput.
func PlanPrompt(userInput string) string {
	return fmt.Sprintf(`Produce a detailed execution plan for the following data-analysis task.

Task: %s

Respond with exactly the following JSON shape, and nothing else:
`+"```json"+`
{
    "goal": "the task's core objective",
    "steps": [
        {"index": 1, "description": "a concrete, executable step", "tool_hint": "expected tool name (optional)"}
    ],
    "estimated_tools": ["tool1", "tool2"]
}
`+"```"+`

Notes:
1. Each step must be an independent, executable operation.
2. Steps should be listed in the order they must run.
3. tool_hint should name a real tool when one is obviously implied.
4. Prefer 2-6 steps.`, userInput)
}

var jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
var jsonObject = regexp.MustCompile("(?s)\\{.*\\}")

// ParsePlanResponse extracts and decodes the LLM's plan JSON from response,
// tolerating a fenced ```json block or a bare JSON object. Returns
// ok=false on any parse failure rather than an error, since a parse
// failure is an expected, non-fatal outcome here.
func ParsePlanResponse(response, fallbackGoal string) (ExecutionPlan, bool) {
	var jsonStr string
	if m := jsonFence.FindStringSubmatch(response); m != nil {
		jsonStr = m[1]
	} else if m := jsonObject.FindString(response); m != "" {
		jsonStr = m
	} else {
		return ExecutionPlan{}, false
	}

	var raw struct {
		Goal           string     `json:"goal"`
		Steps          []PlanStep `json:"steps"`
		EstimatedTools []string   `json:"estimated_tools"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return ExecutionPlan{}, false
	}
	if len(raw.Steps) == 0 {
		return ExecutionPlan{}, false
	}

	goal := raw.Goal
	if goal == "" {
		goal = fallbackGoal
	}
	for i := range raw.Steps {
		if raw.Steps[i].Index == 0 {
			raw.Steps[i].Index = i + 1
		}
		raw.Steps[i].Status = StepPending
	}

	return ExecutionPlan{Goal: goal, Steps: raw.Steps, EstimatedTools: raw.EstimatedTools}, true
}

// StepPrompt builds the isolated execution prompt for one plan step,
// including a trimmed summary of prior completed steps as context.
func StepPrompt(plan ExecutionPlan, step PlanStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are executing step %d of a data-analysis task.\n\n", step.Index)
	fmt.Fprintf(&b, "Overall goal: %s\n\n", plan.Goal)
	fmt.Fprintf(&b, "Current step: %s\n", step.Description)
	if step.ToolHint != "" {
		fmt.Fprintf(&b, "Suggested tool: %s\n", step.ToolHint)
	}

	var prior []string
	for _, s := range plan.Steps {
		if s.Index < step.Index && s.Status == StepCompleted && s.Result != "" {
			result := s.Result
			if len(result) > 200 {
				result = result[:200] + "..."
			}
			prior = append(prior, fmt.Sprintf("Step %d result: %s", s.Index, result))
		}
	}
	if len(prior) > 0 {
		b.WriteString("\nResults from prior steps:\n")
		b.WriteString(strings.Join(prior, "\n"))
	}

	b.WriteString("\n\nExecute the current step and return its result.")
	return b.String()
}

// SummarizeResults builds the final turn text from a completed plan's step
// results.
func SummarizeResults(plan ExecutionPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task complete: %s\n\n", plan.Goal)
	for _, s := range plan.Steps {
		switch s.Status {
		case StepCompleted:
			fmt.Fprintf(&b, "### Step %d: %s\n", s.Index, s.Description)
			result := s.Result
			if len(result) > 500 {
				result = result[:500] + "..."
			}
			b.WriteString(result)
			b.WriteString("\n\n")
		case StepFailed:
			fmt.Fprintf(&b, "### Step %d: %s [failed]\n", s.Index, s.Description)
			if s.Result != "" {
				fmt.Fprintf(&b, "Error: %s\n", s.Result)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
