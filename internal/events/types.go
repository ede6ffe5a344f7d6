package events

import (
	"time"
)

// Kind identifies an event type. The set of kinds is closed.
type Kind int

const (
	KindExecutionStarted Kind = iota + 1
	KindExecutionCompleted
	KindTaskFinished
	KindTaskEnqueued
	KindOrchestrationFailed
)

func (k Kind) String() string {
	switch k {
	case KindExecutionStarted:
		return "execution.started"
	case KindExecutionCompleted:
		return "execution.completed"
	case KindTaskFinished:
		return "task.finished"
	case KindTaskEnqueued:
		return "task.enqueued"
	case KindOrchestrationFailed:
		return "orchestration.failed"
	}
	return "unknown"
}

// Event is the base interface for all events.
type Event interface {
	Kind() Kind
	TaskID() string
}

// ExecutionStartedEvent is published when an orchestration enters EXECUTING.
type ExecutionStartedEvent struct {
	OrchestrationID string
	ParentTaskID    string
	TotalSubtasks   int
	Enqueued        int
	Timestamp       time.Time
}

func (e ExecutionStartedEvent) Kind() Kind     { return KindExecutionStarted }
func (e ExecutionStartedEvent) TaskID() string { return e.ParentTaskID }

// ExecutionCompletedEvent is published once when every subtask of an
// orchestration is DONE.
type ExecutionCompletedEvent struct {
	OrchestrationID string
	ParentTaskID    string
	TotalSubtasks   int
	Timestamp       time.Time
}

func (e ExecutionCompletedEvent) Kind() Kind     { return KindExecutionCompleted }
func (e ExecutionCompletedEvent) TaskID() string { return e.ParentTaskID }

// TaskFinishedEvent is published when a task reaches DONE.
type TaskFinishedEvent struct {
	ID        string
	Actor     string
	Timestamp time.Time
}

func (e TaskFinishedEvent) Kind() Kind     { return KindTaskFinished }
func (e TaskFinishedEvent) TaskID() string { return e.ID }

// TaskEnqueuedEvent is published when a task gets a new queue entry.
type TaskEnqueuedEvent struct {
	ID              string
	AgentID         string
	OrchestrationID string
	Priority        int
	Timestamp       time.Time
}

func (e TaskEnqueuedEvent) Kind() Kind     { return KindTaskEnqueued }
func (e TaskEnqueuedEvent) TaskID() string { return e.ID }

// OrchestrationFailedEvent is published when an orchestration moves to FAILED.
type OrchestrationFailedEvent struct {
	OrchestrationID string
	ParentTaskID    string
	Phase           string
	Err             string
	Timestamp       time.Time
}

func (e OrchestrationFailedEvent) Kind() Kind     { return KindOrchestrationFailed }
func (e OrchestrationFailedEvent) TaskID() string { return e.ParentTaskID }
