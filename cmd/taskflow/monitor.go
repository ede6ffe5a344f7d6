package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/orchestrator"
)

func newMonitorCmd(a *app) *cobra.Command {
	var (
		once     bool
		interval time.Duration
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Reconcile executing orchestrations",
		Long: `Ticks every executing orchestration: recounts progress, enqueues subtasks
whose dependencies are DONE, completes finished orchestrations and reports
stalls. Runs until interrupted unless --once is given.

With --listen, serves Prometheus metrics on /metrics and accepts
POST /tasks/{id}/finish. Tasks finished through that endpoint unlock their
dependents immediately instead of on the next tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bus := events.NewEventBus()
			defer bus.Close()

			engine, err := a.engine(ctx, bus)
			if err != nil {
				return err
			}

			mc := orchestrator.MonitorConfig{
				Interval:    a.cfg.Monitor.Interval.Std(),
				Concurrency: a.cfg.Monitor.Concurrency,
			}
			if interval > 0 {
				mc.Interval = interval
			}
			monitor := orchestrator.NewMonitor(engine, mc)

			out := cmd.OutOrStdout()
			if once {
				reports, err := monitor.Tick(ctx)
				if err != nil {
					return err
				}
				for _, r := range reports {
					fmt.Fprintf(out, "%s %d/%d complete, %d in progress, %d unlocked", r.OrchestrationID, r.Completed, r.Total, r.InProgress, len(r.Unlocked))
					if r.CompletedNow {
						fmt.Fprint(out, ", "+okStyle.Render("completed"))
					}
					if r.Stalled {
						fmt.Fprint(out, ", "+warnStyle.Render("stalled"))
					}
					fmt.Fprintln(out)
				}
				return nil
			}

			if listen == "" {
				listen = a.cfg.Monitor.ListenAddr
			}
			return runMonitor(ctx, a, engine, monitor, bus, listen)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single tick and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between ticks (overrides monitor.interval)")
	cmd.Flags().StringVar(&listen, "listen", "", "serve metrics and the finish endpoint on this address")
	return cmd
}

// runMonitor runs the tick loop, the event-driven reconciler and the
// optional HTTP server until ctx is cancelled.
func runMonitor(ctx context.Context, a *app, engine *orchestrator.Engine, monitor *orchestrator.Monitor, bus *events.EventBus, listen string) error {
	reconciler := orchestrator.NewReconciler(engine, bus)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })

	if listen != "" {
		srv := &http.Server{
			Addr:              listen,
			Handler:           newMonitorHandler(engine, bus, a.log),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			a.log.Info("serving http", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("monitor started", "interval", a.cfg.Monitor.Interval.Std().String())
	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

type finishResponse struct {
	TaskID  string `json:"task_id"`
	Changed bool   `json:"changed"`
}

// newMonitorHandler serves /metrics and the finish endpoint. Finishing
// publishes TaskFinished on bus, where the monitor's reconciler picks it up.
func newMonitorHandler(engine *orchestrator.Engine, bus *events.EventBus, log *slog.Logger) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "taskflow_events_dropped_total",
		Help: "Event deliveries skipped because a subscriber was full.",
	}, func() float64 { return float64(bus.Dropped()) }))

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, reg}, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /tasks/{id}/finish", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		changed, err := engine.FinishTask(r.Context(), id, r.URL.Query().Get("actor"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, orchestrator.ErrNotFound) {
				status = http.StatusNotFound
			}
			log.Warn("finish task failed", "task", id, "error", err)
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(finishResponse{TaskID: id, Changed: changed}); err != nil {
			log.Warn("write finish response", "task", id, "error", err)
		}
	})
	return mux
}
