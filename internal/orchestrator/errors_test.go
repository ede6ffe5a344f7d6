package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/taskflow/internal/scheduler"
)

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		is      error
		message string
	}{
		{
			name:    "validation",
			err:     &ValidationError{Messages: []string{"a", "b"}},
			is:      ErrValidation,
			message: "validation failed: a; b",
		},
		{
			name:    "conflict",
			err:     &ConflictError{ParentTaskID: "p", OrchestrationID: "o", Status: scheduler.OrchestrationExecuting},
			is:      ErrConflict,
			message: "task p already has orchestration o in status EXECUTING",
		},
		{
			name:    "not found",
			err:     &NotFoundError{Resource: "task", ID: "t1"},
			is:      ErrNotFound,
			message: "task t1 not found",
		},
		{
			name:    "external",
			err:     &ExternalServiceError{Service: "planner", Err: context.DeadlineExceeded},
			is:      ErrExternal,
			message: "planner: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.is)
			assert.Equal(t, tt.message, tt.err.Error())

			for _, other := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrExternal} {
				if other != tt.is {
					assert.False(t, errors.Is(tt.err, other), "%v must not match %v", tt.err, other)
				}
			}
		})
	}

	assert.ErrorIs(t, &ExternalServiceError{Service: "planner", Err: context.DeadlineExceeded}, context.DeadlineExceeded)
}
