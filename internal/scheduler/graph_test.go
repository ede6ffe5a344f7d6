package scheduler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, priority Priority, deps ...string) *Task {
	return &Task{ID: id, Title: id, Priority: priority, Status: TaskTodo, DependsOn: deps}
}

// TestBuildDependencyGraph_Levels tests level computation for acyclic graphs.
func TestBuildDependencyGraph_Levels(t *testing.T) {
	tests := []struct {
		name           string
		tasks          []*Task
		wantLevels     [][]string
		canParallelize bool
	}{
		{
			name: "fan out from a single root",
			tasks: []*Task{
				task("A", PriorityMedium),
				task("B", PriorityMedium, "A"),
				task("C", PriorityMedium, "A"),
			},
			wantLevels:     [][]string{{"A"}, {"B", "C"}},
			canParallelize: true,
		},
		{
			name: "linear chain",
			tasks: []*Task{
				task("A", PriorityLow),
				task("B", PriorityLow, "A"),
				task("C", PriorityLow, "B"),
			},
			wantLevels:     [][]string{{"A"}, {"B"}, {"C"}},
			canParallelize: false,
		},
		{
			name: "level is one past the deepest dependency",
			tasks: []*Task{
				task("A", PriorityMedium),
				task("B", PriorityMedium, "A"),
				task("C", PriorityMedium, "A", "B"),
			},
			wantLevels:     [][]string{{"A"}, {"B"}, {"C"}},
			canParallelize: false,
		},
		{
			name: "priority orders tasks within a level",
			tasks: []*Task{
				task("low", PriorityLow),
				task("urgent", PriorityUrgent),
				task("medium", PriorityMedium),
				task("high", PriorityHigh),
			},
			wantLevels:     [][]string{{"urgent", "high", "medium", "low"}},
			canParallelize: true,
		},
		{
			name: "equal priority keeps input order",
			tasks: []*Task{
				task("root", PriorityMedium),
				task("z", PriorityHigh, "root"),
				task("a", PriorityHigh, "root"),
				task("m", PriorityHigh, "root"),
			},
			wantLevels:     [][]string{{"root"}, {"z", "a", "m"}},
			canParallelize: true,
		},
		{
			name: "dependencies outside the snapshot are ignored",
			tasks: []*Task{
				task("A", PriorityMedium, "external"),
				task("B", PriorityMedium, "A"),
			},
			wantLevels:     [][]string{{"A"}, {"B"}},
			canParallelize: false,
		},
		{
			name:       "empty input",
			tasks:      nil,
			wantLevels: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := BuildDependencyGraph(tt.tasks)

			require.False(t, g.HasCycle)
			assert.Equal(t, tt.wantLevels, g.Levels)
			assert.Equal(t, tt.canParallelize, g.CanParallelize)
		})
	}
}

// TestBuildDependencyGraph_InverseEdges verifies dependents are derived from DependsOn.
func TestBuildDependencyGraph_InverseEdges(t *testing.T) {
	g := BuildDependencyGraph([]*Task{
		task("A", PriorityMedium),
		task("B", PriorityMedium, "A"),
		task("C", PriorityMedium, "A", "B"),
	})

	assert.Equal(t, []string{"B", "C"}, g.Nodes["A"].Dependents)
	assert.Equal(t, []string{"C"}, g.Nodes["B"].Dependents)
	assert.Empty(t, g.Nodes["C"].Dependents)
}

// TestBuildDependencyGraph_LevelProperty checks that every task sits strictly
// above all of its dependencies and level 0 holds exactly the root tasks.
func TestBuildDependencyGraph_LevelProperty(t *testing.T) {
	var tasks []*Task
	for i := 0; i < 30; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if (i*7+j*3)%5 == 0 {
				deps = append(deps, fmt.Sprintf("t%d", j))
			}
		}
		tasks = append(tasks, task(fmt.Sprintf("t%d", i), PriorityMedium, deps...))
	}

	g := BuildDependencyGraph(tasks)
	require.False(t, g.HasCycle)

	placed := 0
	for _, level := range g.Levels {
		placed += len(level)
	}
	assert.Equal(t, len(tasks), placed)

	for _, tk := range tasks {
		node := g.Nodes[tk.ID]
		for _, depID := range tk.DependsOn {
			assert.Greater(t, node.Level, g.Nodes[depID].Level, "task %s vs dependency %s", tk.ID, depID)
		}
		if len(tk.DependsOn) == 0 {
			assert.Contains(t, g.Levels[0], tk.ID)
		} else {
			assert.NotContains(t, g.Levels[0], tk.ID)
		}
	}
}

// TestBuildDependencyGraph_Cycles tests cycle detection and reporting.
func TestBuildDependencyGraph_Cycles(t *testing.T) {
	tests := []struct {
		name      string
		tasks     []*Task
		wantCycle []string
		wantDesc  string
	}{
		{
			name: "direct cycle",
			tasks: []*Task{
				task("X", PriorityMedium, "Y"),
				task("Y", PriorityMedium, "X"),
			},
			wantCycle: []string{"X", "Y", "X"},
			wantDesc:  "X → Y → X",
		},
		{
			name: "transitive cycle",
			tasks: []*Task{
				task("A", PriorityMedium, "B"),
				task("B", PriorityMedium, "C"),
				task("C", PriorityMedium, "A"),
			},
			wantCycle: []string{"A", "B", "C", "A"},
			wantDesc:  "A → B → C → A",
		},
		{
			name: "self-loop",
			tasks: []*Task{
				task("A", PriorityMedium, "A"),
			},
			wantCycle: []string{"A", "A"},
			wantDesc:  "A → A",
		},
		{
			name: "cycle reachable from an acyclic prefix",
			tasks: []*Task{
				task("root", PriorityMedium),
				task("entry", PriorityMedium, "root", "loop1"),
				task("loop1", PriorityMedium, "loop2"),
				task("loop2", PriorityMedium, "loop1"),
			},
			wantCycle: []string{"loop1", "loop2", "loop1"},
			wantDesc:  "loop1 → loop2 → loop1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := BuildDependencyGraph(tt.tasks)

			require.True(t, g.HasCycle)
			assert.Equal(t, tt.wantCycle, g.Cycle)
			assert.Equal(t, tt.wantDesc, g.CycleDescription)
			assert.Nil(t, g.Levels, "levels must not be computed for cyclic graphs")
			assert.False(t, g.CanParallelize)
		})
	}
}

// TestBuildDependencyGraph_DeepChain makes sure long chains don't blow the stack.
func TestBuildDependencyGraph_DeepChain(t *testing.T) {
	const n = 20000
	tasks := make([]*Task, n)
	tasks[0] = task("t0", PriorityMedium)
	for i := 1; i < n; i++ {
		tasks[i] = task(fmt.Sprintf("t%d", i), PriorityMedium, fmt.Sprintf("t%d", i-1))
	}
	// Close the loop at the very end
	tasks[0].DependsOn = []string{fmt.Sprintf("t%d", n-1)}

	g := BuildDependencyGraph(tasks)
	require.True(t, g.HasCycle)
	assert.Len(t, g.Cycle, n+1)
	assert.Equal(t, g.Cycle[0], g.Cycle[len(g.Cycle)-1])
}

// TestExecutionOrder verifies topological order and cycle errors.
func TestExecutionOrder(t *testing.T) {
	t.Run("every prefix contains its dependencies", func(t *testing.T) {
		tasks := []*Task{
			task("deploy", PriorityUrgent, "build", "test"),
			task("test", PriorityHigh, "build"),
			task("build", PriorityMedium, "design"),
			task("design", PriorityLow),
			task("docs", PriorityLow, "design"),
		}

		ordered, err := ExecutionOrder(tasks)
		require.NoError(t, err)
		require.Len(t, ordered, len(tasks))

		seen := make(map[string]bool)
		for _, tk := range ordered {
			for _, dep := range tk.DependsOn {
				assert.True(t, seen[dep], "%s scheduled before its dependency %s", tk.ID, dep)
			}
			seen[tk.ID] = true
		}

		ids := make([]string, len(ordered))
		for i, tk := range ordered {
			ids[i] = tk.ID
		}
		assert.Equal(t, []string{"design", "build", "docs", "test", "deploy"}, ids)
	})

	t.Run("cycle returns CycleError", func(t *testing.T) {
		_, err := ExecutionOrder([]*Task{
			task("X", PriorityMedium, "Y"),
			task("Y", PriorityMedium, "X"),
		})

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"X", "Y", "X"}, cycleErr.Cycle)
		assert.Contains(t, err.Error(), "X → Y → X")
	})
}

// TestDependenciesDone tests the readiness predicate.
func TestDependenciesDone(t *testing.T) {
	done := &Task{ID: "a", Status: TaskDone}
	todo := &Task{ID: "b", Status: TaskTodo}

	assert.True(t, DependenciesDone(nil, nil))
	assert.True(t, DependenciesDone([]string{"a"}, []*Task{done}))
	assert.False(t, DependenciesDone([]string{"a", "b"}, []*Task{done, todo}))
	assert.False(t, DependenciesDone([]string{"a", "missing"}, []*Task{done}))
}
