package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

// finishQuietly marks a task DONE without publishing, the way an external
// writer to the store would.
func (h *harness) finishQuietly(t *testing.T, taskID string) {
	t.Helper()
	_, err := h.store.UpdateTaskStatus(context.Background(), taskID, scheduler.TaskDone, "external", "")
	require.NoError(t, err)
}

func TestMonitorExecution_UnlocksDependents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(
		planned("A", "backend"),
		planned("B", "backend", "A"),
	), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)
	ids := h.subtasks(t, o.ID)
	require.False(t, h.queued(t, ids["B"].ID))

	h.finishQuietly(t, ids["A"].ID)

	report, err := h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ids["B"].ID}, report.Unlocked)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.Total)
	assert.False(t, report.Stalled)
	assert.True(t, h.queued(t, ids["B"].ID))

	cur, err := h.engine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.CompletedSubtasks)
	assert.Equal(t, "Executing: 1/2 subtasks complete", cur.Phase)

	// Idempotent: nothing new to unlock, B is queued so it is not a stall
	report, err = h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Unlocked)
	assert.False(t, report.Stalled)
}

func TestMonitorExecution_DetectsStall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.planner.set(phasePlan(planned("Orphan", "nobody")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)

	report, err := h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, report.Stalled)
	assert.Equal(t, scheduler.OrchestrationExecuting, report.Status)

	cur, err := h.engine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OrchestrationExecuting, cur.Status, "a stall is reported, not failed")
}

func TestMonitorExecution_InProgressIsNotAStall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)
	a := h.subtasks(t, o.ID)["A"]

	_, err = h.queue.Clear(ctx, nil)
	require.NoError(t, err)
	_, err = h.store.UpdateTaskStatus(ctx, a.ID, scheduler.TaskReview, "agent", "")
	require.NoError(t, err)

	report, err := h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.InProgress)
	assert.False(t, report.Stalled)
}

// TestMonitorExecution_CompletesExactlyOnce runs concurrent and repeated
// ticks over a fully finished orchestration.
func TestMonitorExecution_CompletesExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend"), planned("B", "backend")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)
	completed := h.bus.Subscribe(events.KindExecutionCompleted, 8)

	for _, st := range h.subtasks(t, o.ID) {
		h.finishQuietly(t, st.ID)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := h.engine.MonitorExecution(ctx, o.ID)
			if assert.NoError(t, err) && report.CompletedNow {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	report, err := h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, report.CompletedNow)
	assert.Equal(t, scheduler.OrchestrationCompleted, report.Status)

	cur, err := h.engine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OrchestrationCompleted, cur.Status)
	assert.Equal(t, 2, cur.CompletedSubtasks)
	assert.Equal(t, "Completed: 2/2 subtasks complete", cur.Phase)
	assert.NotNil(t, cur.CompletedAt)

	changes, err := h.store.ListStatusChanges(ctx, parent.ID)
	require.NoError(t, err)
	done := 0
	for _, c := range changes {
		if c.To == scheduler.TaskDone {
			done++
			assert.Equal(t, engineActor, c.Actor)
		}
	}
	assert.Equal(t, 1, done, "the parent is marked DONE once")

	assert.Len(t, completed, 1, "one ExecutionCompleted event")
}

func TestMonitorExecution_RepairsParentOfCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)

	// Completion landed but the parent update did not
	moved, err := h.store.TransitionOrchestration(ctx, o.ID,
		[]scheduler.OrchestrationStatus{scheduler.OrchestrationExecuting}, scheduler.OrchestrationCompleted, "done", "")
	require.NoError(t, err)
	require.True(t, moved)

	_, err = h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)

	p, err := h.store.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.TaskDone, p.Status)
}

func TestMonitorExecution_LeavesReopenedParent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)
	h.finishQuietly(t, h.subtasks(t, o.ID)["A"].ID)

	report, err := h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, report.CompletedNow)

	_, err = h.store.UpdateTaskStatus(ctx, parent.ID, scheduler.TaskTodo, "someone", "reopened")
	require.NoError(t, err)

	for range 3 {
		_, err := h.engine.MonitorExecution(ctx, o.ID)
		require.NoError(t, err)
	}

	p, err := h.store.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.TaskTodo, p.Status, "later ticks do not force the parent DONE again")

	changes, err := h.store.ListStatusChanges(ctx, parent.ID)
	require.NoError(t, err)
	done := 0
	for _, c := range changes {
		if c.To == scheduler.TaskDone {
			done++
		}
	}
	assert.Equal(t, 1, done)
}

func TestMonitorExecution_IgnoresInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend"), planned("B", "backend", "A")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)
	require.NoError(t, h.engine.Cancel(ctx, o.ID, "stop"))

	ids := h.subtasks(t, o.ID)
	h.finishQuietly(t, ids["A"].ID)

	report, err := h.engine.MonitorExecution(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.OrchestrationFailed, report.Status)
	assert.Empty(t, report.Unlocked)
	assert.False(t, h.queued(t, ids["B"].ID))

	_, err = h.engine.MonitorExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonitor_Tick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend")), nil)

	var orchestrations []*scheduler.Orchestration
	for _, title := range []string{"One", "Two", "Three"} {
		o, err := h.engine.Orchestrate(ctx, h.parent(t, title).ID)
		require.NoError(t, err)
		orchestrations = append(orchestrations, o)
	}
	require.NoError(t, h.engine.Cancel(ctx, orchestrations[2].ID, "not needed"))

	h.finishQuietly(t, h.subtasks(t, orchestrations[0].ID)["A"].ID)

	monitor := NewMonitor(h.engine, MonitorConfig{Concurrency: 2})
	reports, err := monitor.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2, "only executing orchestrations are ticked")

	byID := map[string]*MonitorReport{}
	for _, r := range reports {
		byID[r.OrchestrationID] = r
	}
	assert.True(t, byID[orchestrations[0].ID].CompletedNow)
	assert.False(t, byID[orchestrations[1].ID].CompletedNow)

	reports, err = monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	monitor := NewMonitor(h.engine, MonitorConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := monitor.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestMonitorAndReconciler_EnqueueOnce races the event path against the
// tick for the same newly ready dependent.
func TestMonitorAndReconciler_EnqueueOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	parent := h.parent(t, "Feature")
	h.agent(t, "backend")
	h.planner.set(phasePlan(planned("A", "backend"), planned("B", "backend", "A")), nil)

	o, err := h.engine.Orchestrate(ctx, parent.ID)
	require.NoError(t, err)
	ids := h.subtasks(t, o.ID)
	h.finishQuietly(t, ids["A"].ID)

	reconciler := NewReconciler(h.engine, nil)
	var enqueued atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				res, err := reconciler.HandleTaskFinished(ctx, ids["A"].ID)
				if assert.NoError(t, err) {
					enqueued.Add(int32(len(res.Enqueued)))
				}
				return
			}
			report, err := h.engine.MonitorExecution(ctx, o.ID)
			if assert.NoError(t, err) {
				enqueued.Add(int32(len(report.Unlocked)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), enqueued.Load())
	counts, err := h.queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Total, "A from the start, B exactly once")

	entry, err := h.queue.Get(ctx, ids["B"].ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, entry.Status)
}
