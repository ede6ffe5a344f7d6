package orchestrator

import (
	"context"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Planner decomposes a parent task into a phased plan.
type Planner interface {
	Plan(ctx context.Context, req scheduler.PlanRequest) (*scheduler.Plan, error)
}

// Classifier suggests an agent role for a task. ok is false when it has no
// suggestion.
type Classifier interface {
	SuggestRole(ctx context.Context, title, description string) (role string, ok bool, err error)
}

// AgentDirectory resolves roles to active agents.
type AgentDirectory interface {
	// FindActiveByRole returns nil, nil when no active agent has the role.
	FindActiveByRole(ctx context.Context, role string) (*scheduler.Agent, error)
}

// Store is the persistent state the engine reads and writes. Every
// readiness decision re-reads it; nothing is cached across calls.
type Store interface {
	GetTask(ctx context.Context, id string) (*scheduler.Task, error)
	GetTasks(ctx context.Context, ids []string) ([]*scheduler.Task, error)
	CreateTask(ctx context.Context, task *scheduler.Task) error
	AddDependency(ctx context.Context, taskID, dependsOnID string) error
	AssignAgent(ctx context.Context, taskID, agentID string) error
	UpdateTaskStatus(ctx context.Context, taskID string, to scheduler.TaskStatus, actor, reason string) (bool, error)
	ListTasksByOrchestration(ctx context.Context, orchestrationID string) ([]*scheduler.Task, error)
	ListStatusChanges(ctx context.Context, taskID string) ([]scheduler.StatusChange, error)

	CreateOrchestration(ctx context.Context, o *scheduler.Orchestration) error
	GetOrchestration(ctx context.Context, id string) (*scheduler.Orchestration, error)
	GetOrchestrationByParent(ctx context.Context, parentTaskID string) (*scheduler.Orchestration, error)
	ListOrchestrationsByStatus(ctx context.Context, statuses ...scheduler.OrchestrationStatus) ([]*scheduler.Orchestration, error)
	UpdateOrchestration(ctx context.Context, o *scheduler.Orchestration) error
	UpdateOrchestrationProgress(ctx context.Context, id string, completed, total int, phase string) (bool, error)
	TransitionOrchestration(ctx context.Context, id string, from []scheduler.OrchestrationStatus, to scheduler.OrchestrationStatus, phase, errMsg string) (bool, error)
	ResetOrchestration(ctx context.Context, id string) (bool, error)
}

// Enqueuer is the part of the execution queue the engine drives.
type Enqueuer interface {
	Add(ctx context.Context, taskID, agentID string, opts queue.Options) (*queue.Entry, bool, error)
	Get(ctx context.Context, taskID string) (*queue.Entry, error)
	Complete(ctx context.Context, taskID string) error
}

// Publisher emits events.
type Publisher interface {
	Publish(event events.Event)
}
