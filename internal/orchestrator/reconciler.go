package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/scheduler"
)

// Subscriber is the subscribing side of the event bus.
type Subscriber interface {
	Subscribe(kind events.Kind, bufSize int) <-chan events.Event
}

// ReconcileResult describes the effect of one finished task.
type ReconcileResult struct {
	TaskID          string
	Enqueued        []string // Dependents enqueued because of this completion
	OrchestrationID string
	Completed       int
	Total           int
	CompletedNow    bool // This call moved the orchestration to COMPLETED
}

// Reconciler unlocks dependents when tasks finish.
type Reconciler struct {
	engine   *Engine
	finished <-chan events.Event
	log      *slog.Logger
}

// NewReconciler creates a reconciler. When bus is non-nil it subscribes to
// TaskFinished immediately, so events published before Run starts are kept
// in the subscription buffer.
func NewReconciler(engine *Engine, bus Subscriber) *Reconciler {
	r := &Reconciler{
		engine: engine,
		log:    engine.log.With("component", "reconciler"),
	}
	if bus != nil {
		r.finished = bus.Subscribe(events.KindTaskFinished, 1024)
	}
	return r
}

// Run handles TaskFinished events until ctx is cancelled or the bus closes.
// Errors for one event are logged; the monitor tick repairs anything missed.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.finished == nil {
		return fmt.Errorf("reconciler has no event subscription")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.finished:
			if !ok {
				return nil
			}
			result, err := r.HandleTaskFinished(ctx, ev.TaskID())
			if err != nil {
				r.log.Error("failed to reconcile finished task", "task", ev.TaskID(), "error", err)
				continue
			}
			if len(result.Enqueued) > 0 || result.CompletedNow {
				r.log.Info("task reconciled", "task", result.TaskID, "enqueued", len(result.Enqueued),
					"orchestration", result.OrchestrationID, "completed", result.Completed, "total", result.Total)
			}
		}
	}
}

// HandleTaskFinished enqueues every dependent of taskID that is TODO, has an
// agent, belongs to an orchestration, and now has all of its dependencies
// DONE. It then records the progress of taskID's orchestration and completes
// it when every subtask is DONE.
func (r *Reconciler) HandleTaskFinished(ctx context.Context, taskID string) (*ReconcileResult, error) {
	start := time.Now()
	defer func() { reconcileDuration.WithLabelValues("event").Observe(time.Since(start).Seconds()) }()

	e := r.engine
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{TaskID: task.ID, OrchestrationID: task.OrchestrationID}

	dependents, err := e.store.GetTasks(ctx, task.Dependents)
	if err != nil {
		return nil, fmt.Errorf("load dependents of task %s: %w", task.ID, err)
	}

	for _, d := range dependents {
		if d.Status != scheduler.TaskTodo || d.AgentID == "" || d.OrchestrationID == "" {
			continue
		}
		ready, err := e.ready(ctx, d)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		created, err := e.enqueue(ctx, d, sourceReconciler)
		if err != nil {
			return nil, err
		}
		if created {
			result.Enqueued = append(result.Enqueued, d.ID)
		}
	}

	if task.OrchestrationID == "" {
		return result, nil
	}

	o, err := e.Get(ctx, task.OrchestrationID)
	if err != nil {
		return nil, err
	}
	if o.Status != scheduler.OrchestrationExecuting {
		result.Completed, result.Total = o.CompletedSubtasks, o.TotalSubtasks
		return result, nil
	}

	subtasks, err := e.store.ListTasksByOrchestration(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load subtasks of orchestration %s: %w", o.ID, err)
	}
	result.Total = len(subtasks)
	for _, t := range subtasks {
		if t.Status == scheduler.TaskDone {
			result.Completed++
		}
	}

	result.CompletedNow, err = e.recordProgress(ctx, o, result.Completed, result.Total)
	if err != nil {
		return nil, err
	}
	return result, nil
}
