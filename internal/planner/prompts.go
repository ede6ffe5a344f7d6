package planner

import (
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
)

const planInstructions = `You are a technical project planner. Break the task below into concrete subtasks.

Answer with a single JSON object and nothing else, in this shape:
{
  "analysis": "short reasoning about the decomposition",
  "phases": [
    {
      "name": "phase name",
      "description": "what the phase achieves",
      "subtasks": [
        {
          "title": "unique subtask title",
          "description": "what to do",
          "agent_role": "role that should do it",
          "estimated_hours": 2,
          "priority": "LOW | MEDIUM | HIGH | URGENT",
          "depends_on": ["titles of subtasks that must finish first"]
        }
      ]
    }
  ]
}

Rules:
- Every title is unique across all phases.
- depends_on only names titles from this plan, never the subtask itself.
- Dependencies must not form a cycle.
- Only declare a dependency when the work truly cannot start earlier.`

const classifyInstructions = `You route work to agents. Pick the single best role for the task below.

Answer with a single JSON object and nothing else: {"role": "<role>"}.
Use {"role": ""} when no role fits.`

func planPrompt(req scheduler.PlanRequest, roles []string) string {
	var sb strings.Builder
	sb.WriteString(planInstructions)
	sb.WriteString("\n\n")
	if len(roles) > 0 {
		fmt.Fprintf(&sb, "Available agent roles: %s\n\n", strings.Join(roles, ", "))
	}
	fmt.Fprintf(&sb, "Task: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", req.Description)
	}
	if req.Priority != "" {
		fmt.Fprintf(&sb, "Priority: %s\n", req.Priority)
	}
	if req.EstimatedHours > 0 {
		fmt.Fprintf(&sb, "Estimated effort: %.1f hours\n", req.EstimatedHours)
	}
	return sb.String()
}

func classifyPrompt(title, description string, roles []string) string {
	var sb strings.Builder
	sb.WriteString(classifyInstructions)
	sb.WriteString("\n\n")
	if len(roles) > 0 {
		fmt.Fprintf(&sb, "Roles: %s\n\n", strings.Join(roles, ", "))
	}
	fmt.Fprintf(&sb, "Task: %s\n", title)
	if description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", description)
	}
	return sb.String()
}
