package scheduler

import (
	"fmt"
	"sort"
)

// CycleError reports a circular dependency with the full cycle path.
type CycleError struct {
	Cycle []string // Closed path: first element repeated at the end
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", formatCycle(e.Cycle))
}

// Node is the transient graph view of a task. Edges hold identifiers,
// never pointers, and are limited to tasks inside the snapshot.
type Node struct {
	ID         string
	Title      string
	Priority   Priority
	Level      int
	DependsOn  []string
	Dependents []string
	index      int // Position in the input, used as a stable tie-breaker
}

// Graph is the result of BuildDependencyGraph.
type Graph struct {
	Nodes            map[string]*Node
	Levels           [][]string // Task IDs per level, highest priority first
	HasCycle         bool
	Cycle            []string
	CycleDescription string
	CanParallelize   bool
}

// BuildDependencyGraph builds a node per task, derives inverse edges and
// checks for cycles. If the graph is acyclic, tasks are grouped into levels
// with a breadth-first topological sweep: a task's level is one more than
// the highest level among its dependencies. Within a level, tasks are ordered
// by priority weight descending, ties broken by input order.
//
// Dependencies on IDs outside the snapshot are ignored.
func BuildDependencyGraph(tasks []*Task) *Graph {
	g := &Graph{Nodes: make(map[string]*Node, len(tasks))}

	order := make([]string, 0, len(tasks))
	for i, t := range tasks {
		if _, exists := g.Nodes[t.ID]; exists {
			continue
		}
		g.Nodes[t.ID] = &Node{
			ID:       t.ID,
			Title:    t.Title,
			Priority: t.Priority,
			index:    i,
		}
		order = append(order, t.ID)
	}

	linked := make(map[string]bool, len(order))
	for _, t := range tasks {
		if linked[t.ID] {
			continue // Duplicate input entry; the first one wins
		}
		linked[t.ID] = true
		node := g.Nodes[t.ID]
		seen := make(map[string]bool, len(t.DependsOn))
		for _, depID := range t.DependsOn {
			dep, ok := g.Nodes[depID]
			if !ok || seen[depID] {
				continue
			}
			seen[depID] = true
			node.DependsOn = append(node.DependsOn, depID)
			dep.Dependents = append(dep.Dependents, node.ID)
		}
	}

	if cycle := findCycle(order, func(id string) []string { return g.Nodes[id].DependsOn }); cycle != nil {
		g.HasCycle = true
		g.Cycle = cycle
		g.CycleDescription = formatCycle(cycle)
		return g
	}

	remaining := make(map[string]int, len(order))
	var current []string
	for _, id := range order {
		remaining[id] = len(g.Nodes[id].DependsOn)
		if remaining[id] == 0 {
			current = append(current, id)
		}
	}

	for level := 0; len(current) > 0; level++ {
		g.sortLevel(current)

		var next []string
		for _, id := range current {
			node := g.Nodes[id]
			node.Level = level
			for _, depID := range node.Dependents {
				remaining[depID]--
				if remaining[depID] == 0 {
					next = append(next, depID)
				}
			}
		}

		g.Levels = append(g.Levels, current)
		if len(current) > 1 {
			g.CanParallelize = true
		}
		current = next
	}

	return g
}

// sortLevel orders ids by priority weight descending, then input order.
func (g *Graph) sortLevel(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.Nodes[ids[i]], g.Nodes[ids[j]]
		if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
			return wa > wb
		}
		return a.index < b.index
	})
}

// Depth returns the number of levels.
func (g *Graph) Depth() int {
	return len(g.Levels)
}

// ExecutionOrder returns the tasks in a valid topological sequence: the
// levels of BuildDependencyGraph flattened in order. Returns a *CycleError
// if the tasks contain a cycle.
func ExecutionOrder(tasks []*Task) ([]*Task, error) {
	g := BuildDependencyGraph(tasks)
	if g.HasCycle {
		return nil, &CycleError{Cycle: g.Cycle}
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if _, exists := byID[t.ID]; !exists {
			byID[t.ID] = t
		}
	}

	ordered := make([]*Task, 0, len(byID))
	for _, level := range g.Levels {
		for _, id := range level {
			ordered = append(ordered, byID[id])
		}
	}
	return ordered, nil
}
