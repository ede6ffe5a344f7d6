package scheduler

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// VerifyAcyclic re-validates an ID-linked task set with a topological sort.
// Unlike BuildDependencyGraph it rejects dependencies on tasks outside the set,
// so it is meant for a complete snapshot such as an orchestration's subtasks
// right after their edges were persisted. Returns the sorted IDs.
func VerifyAcyclic(tasks []*Task) ([]string, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	// First, verify all dependencies exist
	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if !known[depID] {
				return nil, fmt.Errorf("task %q depends on task %q outside the set", t.ID, depID)
			}
			if depID == t.ID {
				return nil, &CycleError{Cycle: []string{t.ID, t.ID}}
			}
		}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			// Edge from nil keeps tasks without dependencies in the result
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			// Edge (depID, taskID): depID must come before taskID
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		keys := make([]string, 0, len(tasks))
		deps := make(map[string][]string, len(tasks))
		for _, t := range tasks {
			keys = append(keys, t.ID)
			deps[t.ID] = t.DependsOn
		}
		if cycle := findCycle(keys, func(id string) []string { return deps[id] }); cycle != nil {
			return nil, &CycleError{Cycle: cycle}
		}
		return nil, fmt.Errorf("topological sort failed: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Catches tasks the sort silently dropped
	if len(order) != len(known) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for id := range known {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}
