package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVerifyAcyclic tests re-validation of ID-linked task sets.
func TestVerifyAcyclic(t *testing.T) {
	tests := []struct {
		name        string
		tasks       []*Task
		wantErr     bool
		errContains string
		wantCycle   bool
	}{
		{
			name: "valid linear chain",
			tasks: []*Task{
				task("A", PriorityMedium),
				task("B", PriorityMedium, "A"),
				task("C", PriorityMedium, "B"),
			},
		},
		{
			name: "disconnected components",
			tasks: []*Task{
				task("A", PriorityMedium),
				task("B", PriorityMedium, "A"),
				task("C", PriorityMedium),
				task("D", PriorityMedium, "C"),
			},
		},
		{
			name: "direct cycle",
			tasks: []*Task{
				task("A", PriorityMedium, "B"),
				task("B", PriorityMedium, "A"),
			},
			wantErr:   true,
			wantCycle: true,
		},
		{
			name: "self-loop",
			tasks: []*Task{
				task("A", PriorityMedium, "A"),
			},
			wantErr:   true,
			wantCycle: true,
		},
		{
			name: "dependency outside the set",
			tasks: []*Task{
				task("A", PriorityMedium, "nonexistent"),
			},
			wantErr:     true,
			errContains: "nonexistent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := VerifyAcyclic(tt.tasks)

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Len(t, order, len(tt.tasks))

				position := make(map[string]int, len(order))
				for i, id := range order {
					position[id] = i
				}
				for _, tk := range tt.tasks {
					for _, dep := range tk.DependsOn {
						assert.Less(t, position[dep], position[tk.ID])
					}
				}
				return
			}

			require.Error(t, err)
			if tt.errContains != "" {
				assert.Contains(t, err.Error(), tt.errContains)
			}
			if tt.wantCycle {
				var cycleErr *CycleError
				assert.True(t, errors.As(err, &cycleErr))
			}
		})
	}
}
