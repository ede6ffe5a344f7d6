package scheduler

import (
	"fmt"
	"strings"
)

// maxChainDepth is the number of levels beyond which a plan is flagged as
// possibly sequentialized for no reason.
const maxChainDepth = 5

// ValidationResult contains the results of validating a plan.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidatePlan checks a plan's title-based dependency structure before any
// subtask is persisted. Structural checks run in order: duplicate titles,
// dependencies on unknown titles, self dependencies, and cycles. Any
// violation makes the plan invalid and no warnings are computed.
func ValidatePlan(plan *Plan) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}

	subtasks := plan.Subtasks()
	if len(subtasks) == 0 {
		result.Valid = false
		result.Errors = append(result.Errors, "plan contains no subtasks")
		return result
	}

	// 1. Duplicate titles
	counts := make(map[string]int, len(subtasks))
	titles := make([]string, 0, len(subtasks))
	for _, st := range subtasks {
		if counts[st.Title] == 0 {
			titles = append(titles, st.Title)
		}
		counts[st.Title]++
	}
	for _, title := range titles {
		if counts[title] > 1 {
			result.Errors = append(result.Errors,
				fmt.Sprintf("duplicate subtask title %q (appears %d times)", title, counts[title]))
		}
	}

	// 2. Unknown dependency titles
	reported := make(map[string]bool)
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if counts[dep] > 0 {
				continue
			}
			msg := fmt.Sprintf("subtask %q depends on unknown subtask %q", st.Title, dep)
			if !reported[msg] {
				reported[msg] = true
				result.Errors = append(result.Errors, msg)
			}
		}
	}

	// 3. Self dependencies
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if dep != st.Title {
				continue
			}
			msg := fmt.Sprintf("subtask %q depends on itself", st.Title)
			if !reported[msg] {
				reported[msg] = true
				result.Errors = append(result.Errors, msg)
			}
		}
	}

	// 4. Cycles over known titles. Self edges were reported above.
	edges := make(map[string][]string, len(titles))
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			if dep == st.Title || counts[dep] == 0 {
				continue
			}
			edges[st.Title] = append(edges[st.Title], dep)
		}
	}
	if cycle := findCycle(titles, func(title string) []string { return edges[title] }); cycle != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("circular dependency: %s", formatCycle(cycle)))
	}

	if len(result.Errors) > 0 {
		result.Valid = false
		return result
	}

	result.Warnings = planWarnings(subtasks)
	return result
}

// planWarnings builds a title-indexed graph of a structurally valid plan and
// reports non-fatal smells.
func planWarnings(subtasks []PlannedSubtask) []string {
	warnings := []string{}

	tasks := make([]*Task, len(subtasks))
	declared := 0
	for i, st := range subtasks {
		tasks[i] = &Task{ID: st.Title, Title: st.Title, Priority: st.Priority, DependsOn: st.DependsOn}
		declared += len(st.DependsOn)
	}
	g := BuildDependencyGraph(tasks)

	if declared == 0 && len(subtasks) > 1 {
		warnings = append(warnings,
			fmt.Sprintf("no dependencies declared: all %d subtasks will run in parallel", len(subtasks)))
	}

	var orphans []string
	for _, t := range tasks {
		node := g.Nodes[t.ID]
		if len(node.DependsOn) == 0 && len(node.Dependents) == 0 {
			orphans = append(orphans, fmt.Sprintf("%q", t.ID))
		}
	}
	if len(orphans) > 1 {
		warnings = append(warnings,
			fmt.Sprintf("%d subtasks neither depend on nor are depended upon (%s); they will run in parallel, check this is intended",
				len(orphans), strings.Join(orphans, ", ")))
	}

	if g.Depth() > maxChainDepth {
		warnings = append(warnings,
			fmt.Sprintf("dependency chain spans %d levels; consider whether every step must be sequential", g.Depth()))
	}

	return warnings
}
