package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/taskflow/internal/scheduler"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrExternal   = errors.New("external service failed")
)

// ValidationError reports malformed input or a plan that failed validation.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Messages, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports that the parent task already has an orchestration
// that has not failed.
type ConflictError struct {
	ParentTaskID    string
	OrchestrationID string
	Status          scheduler.OrchestrationStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("task %s already has orchestration %s in status %s", e.ParentTaskID, e.OrchestrationID, e.Status)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NotFoundError reports a missing task or orchestration.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExternalServiceError wraps a failure of the planner or classifier.
// Timeouts keep context.DeadlineExceeded in the chain.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() []error { return []error{ErrExternal, e.Err} }
