package scheduler

import "time"

// OrchestrationStatus is the state of an orchestration's state machine.
type OrchestrationStatus string

const (
	OrchestrationPlanning         OrchestrationStatus = "PLANNING"
	OrchestrationCreatingSubtasks OrchestrationStatus = "CREATING_SUBTASKS"
	OrchestrationAssigningAgents  OrchestrationStatus = "ASSIGNING_AGENTS"
	OrchestrationExecuting        OrchestrationStatus = "EXECUTING"
	OrchestrationCompleted        OrchestrationStatus = "COMPLETED"
	OrchestrationFailed           OrchestrationStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrchestrationStatus) Terminal() bool {
	return s == OrchestrationCompleted || s == OrchestrationFailed
}

// ActiveOrchestrationStatuses lists every non-terminal status.
var ActiveOrchestrationStatuses = []OrchestrationStatus{
	OrchestrationPlanning,
	OrchestrationCreatingSubtasks,
	OrchestrationAssigningAgents,
	OrchestrationExecuting,
}

// Orchestration tracks the decomposition of one parent task into subtasks
// and the state of their collective execution.
type Orchestration struct {
	ID                string
	ParentTaskID      string
	Status            OrchestrationStatus
	Plan              *Plan
	TotalSubtasks     int
	CompletedSubtasks int
	Phase             string // Human-readable description of the current step
	Error             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}
