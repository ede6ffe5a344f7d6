package scheduler

import "strings"

// Colors for depth-first cycle detection.
const (
	white = iota // Unvisited
	gray         // On the current path
	black        // Finished
)

// findCycle runs a three-color depth-first search over keys, following edges.
// It returns the first cycle found as a closed path (first element repeated
// at the end), or nil if the graph is acyclic. An explicit stack is used so
// depth is bounded by heap, not goroutine stack.
func findCycle(keys []string, edges func(key string) []string) []string {
	type frame struct {
		key  string
		next int // Index of the next outgoing edge to explore
	}

	colors := make(map[string]int, len(keys))

	for _, root := range keys {
		if colors[root] != white {
			continue
		}

		colors[root] = gray
		stack := []frame{{key: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			out := edges(top.key)

			if top.next >= len(out) {
				colors[top.key] = black
				stack = stack[:len(stack)-1]
				continue
			}

			next := out[top.next]
			top.next++

			switch colors[next] {
			case gray:
				// Back edge: the cycle is the stack suffix starting at next.
				start := 0
				for i := range stack {
					if stack[i].key == next {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start+1)
				for _, f := range stack[start:] {
					cycle = append(cycle, f.key)
				}
				return append(cycle, next)
			case white:
				colors[next] = gray
				stack = append(stack, frame{key: next})
			}
		}
	}

	return nil
}

// formatCycle renders a closed cycle path as "A → B → A".
func formatCycle(cycle []string) string {
	return strings.Join(cycle, " → ")
}
