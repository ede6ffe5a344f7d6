package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

// MonitorReport describes one reconciliation tick.
type MonitorReport struct {
	OrchestrationID string
	Status          scheduler.OrchestrationStatus
	Completed       int
	Total           int
	InProgress      int
	Unlocked        []string // Subtasks enqueued by this tick
	Stalled         bool
	CompletedNow    bool // This tick moved the orchestration to COMPLETED
}

// MonitorExecution is an idempotent reconciliation tick. It recounts
// progress, enqueues TODO subtasks whose dependencies are all DONE, and
// completes the orchestration when every subtask is DONE. A stall (nothing
// runnable, running, or queued) is logged but does not fail the orchestration.
func (e *Engine) MonitorExecution(ctx context.Context, orchestrationID string) (*MonitorReport, error) {
	start := time.Now()
	defer func() { reconcileDuration.WithLabelValues("monitor").Observe(time.Since(start).Seconds()) }()

	o, err := e.Get(ctx, orchestrationID)
	if err != nil {
		return nil, err
	}

	report := &MonitorReport{
		OrchestrationID: o.ID,
		Status:          o.Status,
		Completed:       o.CompletedSubtasks,
		Total:           o.TotalSubtasks,
	}

	switch o.Status {
	case scheduler.OrchestrationExecuting:
	case scheduler.OrchestrationCompleted:
		return report, e.repairParent(ctx, o)
	default:
		return report, nil
	}

	subtasks, err := e.store.ListTasksByOrchestration(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("load subtasks of orchestration %s: %w", o.ID, err)
	}

	report.Completed = 0
	report.Total = len(subtasks)
	for _, t := range subtasks {
		switch t.Status {
		case scheduler.TaskDone:
			report.Completed++
		case scheduler.TaskInProgress, scheduler.TaskReview:
			report.InProgress++
		case scheduler.TaskTodo:
			if t.AgentID == "" {
				continue
			}
			ready, err := e.ready(ctx, t)
			if err != nil {
				return nil, err
			}
			if !ready {
				continue
			}
			created, err := e.enqueue(ctx, t, sourceMonitor)
			if err != nil {
				return nil, err
			}
			if created {
				report.Unlocked = append(report.Unlocked, t.ID)
			}
		}
	}

	completedNow, err := e.recordProgress(ctx, o, report.Completed, report.Total)
	if err != nil {
		return nil, err
	}
	report.CompletedNow = completedNow
	if completedNow {
		report.Status = scheduler.OrchestrationCompleted
		return report, nil
	}

	if report.Completed < report.Total && len(report.Unlocked) == 0 && report.InProgress == 0 {
		active, err := e.hasActiveEntries(ctx, subtasks)
		if err != nil {
			return nil, err
		}
		if !active {
			report.Stalled = true
			stalledTotal.Inc()
			e.log.Warn("orchestration stalled: no subtask is runnable, running, or queued",
				"orchestration", o.ID, "completed", report.Completed, "total", report.Total)
		}
	}

	return report, nil
}

// recordProgress persists the counts and completes the orchestration once
// every subtask is DONE.
func (e *Engine) recordProgress(ctx context.Context, o *scheduler.Orchestration, completed, total int) (bool, error) {
	if _, err := e.store.UpdateOrchestrationProgress(ctx, o.ID, completed, total, progressPhase(completed, total)); err != nil {
		return false, err
	}
	if total == 0 || completed < total {
		return false, nil
	}
	return e.complete(ctx, o, total)
}

// repairParent marks the parent DONE when the completion landed but the
// parent update did not. A parent that reached DONE since the orchestration
// started and was reopened afterwards is left alone.
func (e *Engine) repairParent(ctx context.Context, o *scheduler.Orchestration) error {
	changes, err := e.store.ListStatusChanges(ctx, o.ParentTaskID)
	if err != nil {
		return fmt.Errorf("load audit log of parent task %s: %w", o.ParentTaskID, err)
	}
	for _, c := range changes {
		if c.To == scheduler.TaskDone && !c.CreatedAt.Before(o.CreatedAt) {
			return nil
		}
	}
	return e.markParentDone(ctx, o)
}

// hasActiveEntries reports whether any unfinished subtask has a PENDING or
// PROCESSING queue entry.
func (e *Engine) hasActiveEntries(ctx context.Context, subtasks []*scheduler.Task) (bool, error) {
	for _, t := range subtasks {
		if t.Status == scheduler.TaskDone {
			continue
		}
		entry, err := e.queue.Get(ctx, t.ID)
		if errors.Is(err, queue.ErrNotQueued) {
			continue
		}
		if err != nil {
			return false, err
		}
		if entry.Status == queue.StatusPending || entry.Status == queue.StatusProcessing {
			return true, nil
		}
	}
	return false, nil
}

// MonitorConfig configures the periodic monitor.
type MonitorConfig struct {
	Interval    time.Duration // Time between ticks (default 30s)
	Concurrency int           // Max orchestrations reconciled at once (default 4)
}

// Monitor ticks MonitorExecution for every EXECUTING orchestration.
type Monitor struct {
	engine *Engine
	config MonitorConfig
	log    *slog.Logger
}

// NewMonitor creates a monitor for engine.
func NewMonitor(engine *Engine, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Monitor{
		engine: engine,
		config: cfg,
		log:    engine.log.With("component", "monitor"),
	}
}

// Tick reconciles all executing orchestrations with bounded concurrency.
// A failing orchestration is logged and does not stop the others.
func (m *Monitor) Tick(ctx context.Context) ([]*MonitorReport, error) {
	executing, err := m.engine.store.ListOrchestrationsByStatus(ctx, scheduler.OrchestrationExecuting)
	if err != nil {
		return nil, fmt.Errorf("list executing orchestrations: %w", err)
	}

	reports := make([]*MonitorReport, len(executing))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.Concurrency)

	for i, o := range executing {
		g.Go(func() error {
			report, err := m.engine.MonitorExecution(gctx, o.ID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.log.Error("monitor tick failed", "orchestration", o.ID, "error", err)
				return nil
			}
			reports[i] = report
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := reports[:0]
	for _, r := range reports {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		reports, err := m.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Error("monitor tick failed", "error", err)
		}
		for _, r := range reports {
			if r.CompletedNow || len(r.Unlocked) > 0 {
				m.log.Info("orchestration progressed", "orchestration", r.OrchestrationID,
					"completed", r.Completed, "total", r.Total, "unlocked", len(r.Unlocked))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
