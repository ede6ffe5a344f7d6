package scheduler

import "time"

// Priority is the declared urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Weight returns the numeric ordering value of the priority.
// Unknown priorities weigh zero and sort last.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 10
	case PriorityHigh:
		return 7
	case PriorityMedium:
		return 4
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	return p.Weight() > 0
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskReview     TaskStatus = "REVIEW"
	TaskDone       TaskStatus = "DONE"
	TaskBlocked    TaskStatus = "BLOCKED"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// Task represents a unit of work tracked by the scheduler.
type Task struct {
	ID              string
	Title           string
	Description     string
	Priority        Priority
	Status          TaskStatus
	EstimatedHours  float64
	DependsOn       []string // IDs of tasks that must be DONE first
	Dependents      []string // IDs of tasks that depend on this one (derived)
	OrchestrationID string   // Empty unless created by an orchestration
	AgentID         string   // Empty until an agent is assigned
	ParentID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Agent is a worker that subtasks can be assigned to.
type Agent struct {
	ID        string
	Name      string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// StatusChange is one entry of the append-only task status audit log.
type StatusChange struct {
	ID        int64
	TaskID    string
	From      TaskStatus
	To        TaskStatus
	Actor     string
	Reason    string
	CreatedAt time.Time
}

// DependenciesDone reports whether every ID in dependsOn resolves to a task
// in deps whose status is DONE. A dependency missing from deps counts as not done.
func DependenciesDone(dependsOn []string, deps []*Task) bool {
	status := make(map[string]TaskStatus, len(deps))
	for _, d := range deps {
		status[d.ID] = d.Status
	}
	for _, id := range dependsOn {
		if status[id] != TaskDone {
			return false
		}
	}
	return true
}
