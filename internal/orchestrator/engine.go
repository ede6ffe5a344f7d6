// Package orchestrator drives parent tasks through planning, subtask
// creation, agent assignment and execution, and reconciles dependents as
// subtasks finish.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Actor recorded in the audit log for transitions made by the engine.
const engineActor = "orchestrator"

// NoClassifyRetry as EngineConfig.ClassifyRetries calls the classifier once.
const NoClassifyRetry = -1

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Store      Store
	Queue      Enqueuer
	Planner    Planner
	Classifier Classifier // Optional; unassigned subtasks stay unassigned without it
	Agents     AgentDirectory
	Bus        Publisher // Optional
	Logger     *slog.Logger

	PlanTimeout     time.Duration // Bound on one planner call (default 2m)
	ClassifyTimeout time.Duration // Bound on one classifier call (default 30s)
	ClassifyRetries int           // Extra classifier attempts per subtask; 0 means 1, NoClassifyRetry disables
}

// Engine is the orchestration state machine.
type Engine struct {
	store      Store
	queue      Enqueuer
	planner    Planner
	classifier Classifier
	agents     AgentDirectory
	bus        Publisher
	log        *slog.Logger

	planTimeout     time.Duration
	classifyTimeout time.Duration
	classifyRetries uint64
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// NewEngine creates an engine from cfg.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil || cfg.Queue == nil || cfg.Planner == nil || cfg.Agents == nil {
		return nil, errors.New("orchestrator: store, queue, planner and agent directory are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = nopPublisher{}
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = 2 * time.Minute
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = 30 * time.Second
	}
	retries := uint64(1)
	if cfg.ClassifyRetries < 0 {
		retries = 0
	} else if cfg.ClassifyRetries > 0 {
		retries = uint64(cfg.ClassifyRetries)
	}

	return &Engine{
		store:           cfg.Store,
		queue:           cfg.Queue,
		planner:         cfg.Planner,
		classifier:      cfg.Classifier,
		agents:          cfg.Agents,
		bus:             cfg.Bus,
		log:             cfg.Logger.With("component", "orchestrator"),
		planTimeout:     cfg.PlanTimeout,
		classifyTimeout: cfg.ClassifyTimeout,
		classifyRetries: retries,
	}, nil
}

// Orchestrate plans parentTaskID into subtasks and starts their execution.
// It returns the orchestration as persisted once it reached EXECUTING.
// Any failure after the orchestration record exists is persisted as FAILED
// before it is returned.
func (e *Engine) Orchestrate(ctx context.Context, parentTaskID string) (*scheduler.Orchestration, error) {
	parent, err := e.loadTask(ctx, parentTaskID)
	if err != nil {
		return nil, err
	}

	o, err := e.begin(ctx, parent)
	if err != nil {
		return nil, err
	}

	log := e.log.With("orchestration", o.ID, "parent_task", parent.ID)
	log.Info("orchestration started", "title", parent.Title)

	if err := e.run(ctx, log, o, parent); err != nil {
		return nil, e.fail(ctx, log, o, err)
	}

	return e.Get(ctx, o.ID)
}

// begin creates the orchestration record, or resets a FAILED one.
func (e *Engine) begin(ctx context.Context, parent *scheduler.Task) (*scheduler.Orchestration, error) {
	existing, err := e.store.GetOrchestrationByParent(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("load orchestration of task %s: %w", parent.ID, err)
	}

	if existing == nil {
		o := &scheduler.Orchestration{
			ParentTaskID: parent.ID,
			Status:       scheduler.OrchestrationPlanning,
			Phase:        "Planning",
		}
		err := e.store.CreateOrchestration(ctx, o)
		if errors.Is(err, persistence.ErrConflict) {
			// Lost a race against another Orchestrate call for the same parent
			return nil, e.conflict(ctx, parent.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("create orchestration: %w", err)
		}
		return o, nil
	}

	if existing.Status != scheduler.OrchestrationFailed {
		return nil, &ConflictError{ParentTaskID: parent.ID, OrchestrationID: existing.ID, Status: existing.Status}
	}

	reset, err := e.store.ResetOrchestration(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("reset orchestration %s: %w", existing.ID, err)
	}
	if !reset {
		return nil, e.conflict(ctx, parent.ID)
	}
	e.log.Info("restarting failed orchestration", "orchestration", existing.ID, "previous_error", existing.Error)

	return e.store.GetOrchestration(ctx, existing.ID)
}

func (e *Engine) conflict(ctx context.Context, parentTaskID string) error {
	current, err := e.store.GetOrchestrationByParent(ctx, parentTaskID)
	if err != nil {
		return fmt.Errorf("load orchestration of task %s: %w", parentTaskID, err)
	}
	if current == nil {
		return fmt.Errorf("orchestration of task %s vanished: %w", parentTaskID, ErrConflict)
	}
	return &ConflictError{ParentTaskID: parentTaskID, OrchestrationID: current.ID, Status: current.Status}
}

func (e *Engine) run(ctx context.Context, log *slog.Logger, o *scheduler.Orchestration, parent *scheduler.Task) error {
	plan, err := e.plan(ctx, log, parent)
	if err != nil {
		return err
	}
	o.Plan = plan

	if err := e.advance(ctx, o, scheduler.OrchestrationCreatingSubtasks, "Creating subtasks"); err != nil {
		return err
	}
	subtasks, err := e.createSubtasks(ctx, o, parent)
	if err != nil {
		return err
	}
	o.TotalSubtasks = len(subtasks)

	if err := e.advance(ctx, o, scheduler.OrchestrationAssigningAgents, "Assigning agents"); err != nil {
		return err
	}
	if err := e.assignAgents(ctx, log, subtasks); err != nil {
		return err
	}

	if err := e.advance(ctx, o, scheduler.OrchestrationExecuting, progressPhase(0, o.TotalSubtasks)); err != nil {
		return err
	}
	return e.startExecution(ctx, log, o, subtasks)
}

// advance persists a move to the next non-terminal state.
func (e *Engine) advance(ctx context.Context, o *scheduler.Orchestration, to scheduler.OrchestrationStatus, phase string) error {
	o.Status = to
	o.Phase = phase
	if err := e.store.UpdateOrchestration(ctx, o); err != nil {
		return fmt.Errorf("move orchestration to %s: %w", to, err)
	}
	return nil
}

// plan asks the planner for a decomposition and validates it before
// anything is persisted.
func (e *Engine) plan(ctx context.Context, log *slog.Logger, parent *scheduler.Task) (*scheduler.Plan, error) {
	pctx, cancel := context.WithTimeout(ctx, e.planTimeout)
	defer cancel()

	plan, err := e.planner.Plan(pctx, scheduler.PlanRequest{
		Title:          parent.Title,
		Description:    parent.Description,
		Priority:       parent.Priority,
		EstimatedHours: parent.EstimatedHours,
	})
	if err != nil {
		return nil, &ExternalServiceError{Service: "planner", Err: err}
	}
	if plan == nil || len(plan.Phases) == 0 {
		return nil, &ValidationError{Messages: []string{"planner response has no phases"}}
	}

	result := scheduler.ValidatePlan(plan)
	if !result.Valid {
		return nil, &ValidationError{Messages: result.Errors}
	}
	for _, w := range result.Warnings {
		log.Warn("plan warning", "warning", w)
	}
	return plan, nil
}

// createSubtasks persists the planned subtasks in two passes: tasks first,
// then the dependency edges between them once every title has an ID.
func (e *Engine) createSubtasks(ctx context.Context, o *scheduler.Orchestration, parent *scheduler.Task) ([]*scheduler.Task, error) {
	planned := o.Plan.Subtasks()
	idByTitle := make(map[string]string, len(planned))
	created := make([]*scheduler.Task, 0, len(planned))

	for _, ps := range planned {
		priority := ps.Priority
		if !priority.Valid() {
			priority = scheduler.PriorityMedium
		}

		t := &scheduler.Task{
			Title:           ps.Title,
			Description:     ps.Description,
			Priority:        priority,
			Status:          scheduler.TaskTodo,
			EstimatedHours:  ps.EstimatedHours,
			OrchestrationID: o.ID,
			ParentID:        parent.ID,
		}
		if ps.AgentRole != "" {
			agent, err := e.agents.FindActiveByRole(ctx, ps.AgentRole)
			if err != nil {
				return nil, fmt.Errorf("resolve agent for role %q: %w", ps.AgentRole, err)
			}
			if agent != nil {
				t.AgentID = agent.ID
			}
		}

		if err := e.store.CreateTask(ctx, t); err != nil {
			return nil, fmt.Errorf("create subtask %q: %w", ps.Title, err)
		}
		idByTitle[ps.Title] = t.ID
		created = append(created, t)
	}

	for i, ps := range planned {
		for _, depTitle := range ps.DependsOn {
			depID, ok := idByTitle[depTitle]
			if !ok {
				return nil, &ValidationError{Messages: []string{
					fmt.Sprintf("subtask %q depends on unknown subtask %q", ps.Title, depTitle),
				}}
			}
			if err := e.store.AddDependency(ctx, created[i].ID, depID); err != nil {
				return nil, fmt.Errorf("link subtask %q to %q: %w", ps.Title, depTitle, err)
			}
		}
	}

	// Re-read what was persisted and verify the ID-linked graph
	subtasks, err := e.store.ListTasksByOrchestration(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("reload subtasks: %w", err)
	}
	if _, err := scheduler.VerifyAcyclic(subtasks); err != nil {
		return nil, err
	}
	return subtasks, nil
}

// assignAgents asks the classifier for a role for every subtask still
// without an agent. Failures leave the subtask unassigned.
func (e *Engine) assignAgents(ctx context.Context, log *slog.Logger, subtasks []*scheduler.Task) error {
	for _, t := range subtasks {
		if t.AgentID != "" {
			continue
		}

		agent, role, err := e.suggestAgent(ctx, t)
		if err != nil {
			log.Warn("agent classification failed", "task", t.ID, "title", t.Title, "error", err)
			continue
		}
		if agent == nil {
			log.Warn("no active agent for subtask", "task", t.ID, "title", t.Title, "suggested_role", role)
			continue
		}

		if err := e.store.AssignAgent(ctx, t.ID, agent.ID); err != nil {
			return fmt.Errorf("assign agent to subtask %s: %w", t.ID, err)
		}
		t.AgentID = agent.ID
		log.Debug("agent assigned", "task", t.ID, "agent", agent.ID, "role", role)
	}
	return nil
}

// suggestAgent retries the classifier ClassifyRetries times before giving up.
func (e *Engine) suggestAgent(ctx context.Context, t *scheduler.Task) (*scheduler.Agent, string, error) {
	if e.classifier == nil {
		return nil, "", nil
	}

	var role string
	var found bool
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		cctx, cancel := context.WithTimeout(ctx, e.classifyTimeout)
		defer cancel()

		r, ok, err := e.classifier.SuggestRole(cctx, t.Title, t.Description)
		if err != nil {
			return err
		}
		role, found = r, ok
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, e.classifyRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, "", &ExternalServiceError{Service: "classifier", Err: err}
	}
	if !found || role == "" {
		return nil, "", nil
	}

	agent, err := e.agents.FindActiveByRole(ctx, role)
	if err != nil {
		return nil, role, err
	}
	return agent, role, nil
}

// startExecution enqueues every subtask that is ready right away, in
// execution order. The rest is picked up as dependencies finish.
func (e *Engine) startExecution(ctx context.Context, log *slog.Logger, o *scheduler.Orchestration, subtasks []*scheduler.Task) error {
	ordered, err := scheduler.ExecutionOrder(subtasks)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, t := range ordered {
		if t.Status != scheduler.TaskTodo || t.AgentID == "" {
			continue
		}
		ready, err := e.ready(ctx, t)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}
		created, err := e.enqueue(ctx, t, sourceOrchestrate)
		if err != nil {
			return err
		}
		if created {
			enqueued++
		}
	}

	e.bus.Publish(events.ExecutionStartedEvent{
		OrchestrationID: o.ID,
		ParentTaskID:    o.ParentTaskID,
		TotalSubtasks:   len(subtasks),
		Enqueued:        enqueued,
		Timestamp:       time.Now(),
	})
	log.Info("execution started", "subtasks", len(subtasks), "enqueued", enqueued)
	return nil
}

// ready re-reads the task's dependencies from the store.
func (e *Engine) ready(ctx context.Context, t *scheduler.Task) (bool, error) {
	if len(t.DependsOn) == 0 {
		return true, nil
	}
	deps, err := e.store.GetTasks(ctx, t.DependsOn)
	if err != nil {
		return false, fmt.Errorf("load dependencies of task %s: %w", t.ID, err)
	}
	return scheduler.DependenciesDone(t.DependsOn, deps), nil
}

// enqueue adds t to the queue with its declared priority. Returns false
// when the task already had an entry.
func (e *Engine) enqueue(ctx context.Context, t *scheduler.Task, source string) (bool, error) {
	entry, created, err := e.queue.Add(ctx, t.ID, t.AgentID, queue.Options{Priority: t.Priority.Weight()})
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	enqueuedTotal.WithLabelValues(source).Inc()
	e.bus.Publish(events.TaskEnqueuedEvent{
		ID:              t.ID,
		AgentID:         t.AgentID,
		OrchestrationID: t.OrchestrationID,
		Priority:        entry.Priority,
		Timestamp:       time.Now(),
	})
	e.log.Debug("task enqueued", "task", t.ID, "agent", t.AgentID, "priority", entry.Priority, "source", source)
	return true, nil
}

// fail records cause on the orchestration and returns it. The write uses a
// context detached from cancellation so a cancelled caller still leaves a
// FAILED record behind.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, o *scheduler.Orchestration, cause error) error {
	ctx = context.WithoutCancel(ctx)
	phase := "Failed: " + cause.Error()

	moved, err := e.store.TransitionOrchestration(ctx, o.ID, scheduler.ActiveOrchestrationStatuses, scheduler.OrchestrationFailed, phase, cause.Error())
	if err != nil {
		log.Error("failed to persist orchestration failure", "error", err, "cause", cause)
		return cause
	}
	if moved {
		orchestrationsTotal.WithLabelValues("failed").Inc()
		e.bus.Publish(events.OrchestrationFailedEvent{
			OrchestrationID: o.ID,
			ParentTaskID:    o.ParentTaskID,
			Phase:           string(o.Status),
			Err:             cause.Error(),
			Timestamp:       time.Now(),
		})
	}
	log.Error("orchestration failed", "status", o.Status, "error", cause)
	return cause
}

// complete moves an EXECUTING orchestration to COMPLETED and marks the
// parent DONE. Only the caller that wins the transition does either, so
// repeated or concurrent calls complete it exactly once.
func (e *Engine) complete(ctx context.Context, o *scheduler.Orchestration, total int) (bool, error) {
	won, err := e.store.TransitionOrchestration(ctx, o.ID,
		[]scheduler.OrchestrationStatus{scheduler.OrchestrationExecuting},
		scheduler.OrchestrationCompleted, fmt.Sprintf("Completed: %d/%d subtasks complete", total, total), "")
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	orchestrationsTotal.WithLabelValues("completed").Inc()
	e.bus.Publish(events.ExecutionCompletedEvent{
		OrchestrationID: o.ID,
		ParentTaskID:    o.ParentTaskID,
		TotalSubtasks:   total,
		Timestamp:       time.Now(),
	})
	e.log.Info("orchestration completed", "orchestration", o.ID, "parent_task", o.ParentTaskID, "subtasks", total)

	if err := e.markParentDone(ctx, o); err != nil {
		return true, err
	}
	return true, nil
}

// markParentDone is idempotent: the audit record is only written when the
// parent actually changes status.
func (e *Engine) markParentDone(ctx context.Context, o *scheduler.Orchestration) error {
	changed, err := e.store.UpdateTaskStatus(ctx, o.ParentTaskID, scheduler.TaskDone, engineActor,
		fmt.Sprintf("orchestration %s completed", o.ID))
	if err != nil {
		return fmt.Errorf("mark parent task %s done: %w", o.ParentTaskID, err)
	}
	if changed {
		e.log.Info("parent task done", "task", o.ParentTaskID, "orchestration", o.ID)
	}
	return nil
}

// Cancel moves a non-terminal orchestration to FAILED. Queue entries of its
// subtasks are left in place.
func (e *Engine) Cancel(ctx context.Context, orchestrationID, reason string) error {
	o, err := e.Get(ctx, orchestrationID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled"
	}

	moved, err := e.store.TransitionOrchestration(ctx, o.ID, scheduler.ActiveOrchestrationStatuses,
		scheduler.OrchestrationFailed, "Cancelled: "+reason, reason)
	if err != nil {
		return fmt.Errorf("cancel orchestration %s: %w", o.ID, err)
	}
	if !moved {
		current, err := e.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("orchestration %s is already %s: %w", o.ID, current.Status, ErrConflict)
	}

	orchestrationsTotal.WithLabelValues("cancelled").Inc()
	e.bus.Publish(events.OrchestrationFailedEvent{
		OrchestrationID: o.ID,
		ParentTaskID:    o.ParentTaskID,
		Phase:           string(o.Status),
		Err:             reason,
		Timestamp:       time.Now(),
	})
	e.log.Info("orchestration cancelled", "orchestration", o.ID, "reason", reason)
	return nil
}

// Get loads an orchestration.
func (e *Engine) Get(ctx context.Context, orchestrationID string) (*scheduler.Orchestration, error) {
	o, err := e.store.GetOrchestration(ctx, orchestrationID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, &NotFoundError{Resource: "orchestration", ID: orchestrationID}
	}
	return o, err
}

// ForTask loads the orchestration of a parent task.
func (e *Engine) ForTask(ctx context.Context, parentTaskID string) (*scheduler.Orchestration, error) {
	o, err := e.store.GetOrchestrationByParent(ctx, parentTaskID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, &NotFoundError{Resource: "orchestration for task", ID: parentTaskID}
	}
	return o, nil
}

// FinishTask marks a task DONE, completes its queue entry and publishes
// TaskFinished so the reconciler unlocks its dependents. Returns false when
// the task was already DONE.
func (e *Engine) FinishTask(ctx context.Context, taskID, actor string) (bool, error) {
	if actor == "" {
		actor = engineActor
	}

	changed, err := e.store.UpdateTaskStatus(ctx, taskID, scheduler.TaskDone, actor, "task finished")
	if errors.Is(err, persistence.ErrNotFound) {
		return false, &NotFoundError{Resource: "task", ID: taskID}
	}
	if err != nil {
		return false, err
	}

	err = e.queue.Complete(ctx, taskID)
	switch {
	case err == nil, errors.Is(err, queue.ErrNotQueued):
	case errors.Is(err, queue.ErrInvalidTransition):
		// Already COMPLETED, or FAILED before the task was finished elsewhere
		e.log.Debug("queue entry left as is", "task", taskID, "error", err)
	default:
		return changed, fmt.Errorf("complete queue entry of task %s: %w", taskID, err)
	}

	if changed {
		e.bus.Publish(events.TaskFinishedEvent{ID: taskID, Actor: actor, Timestamp: time.Now()})
	}
	return changed, nil
}

func (e *Engine) loadTask(ctx context.Context, id string) (*scheduler.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return t, nil
}

func progressPhase(completed, total int) string {
	return fmt.Sprintf("Executing: %d/%d subtasks complete", completed, total)
}
