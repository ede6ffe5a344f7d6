package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/scheduler"
)

func newOrchestrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrate <parent-task-id>",
		Short: "Plan a task into subtasks and start executing them",
		Long: `Asks the planner to decompose the parent task, creates the subtasks with
their dependencies, assigns agents and enqueues every subtask that can start
right away. A failed orchestration can be retried by running this again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, err := a.engine(ctx, nil)
			if err != nil {
				return err
			}

			o, err := engine.Orchestrate(ctx, args[0])
			if err != nil {
				var conflict *orchestrator.ConflictError
				if errors.As(err, &conflict) {
					return fmt.Errorf("%w; cancel it first or wait for it to finish", err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			renderOrchestration(out, o)

			subtasks, err := a.store.ListTasksByOrchestration(ctx, o.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			renderLevels(out, scheduler.BuildDependencyGraph(subtasks))
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <orchestration-or-parent-task-id>",
		Short: "Show an orchestration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			o, err := store.GetOrchestration(ctx, args[0])
			if err != nil {
				o, err = store.GetOrchestrationByParent(ctx, args[0])
				if err != nil {
					return err
				}
				if o == nil {
					return &orchestrator.NotFoundError{Resource: "orchestration", ID: args[0]}
				}
			}

			out := cmd.OutOrStdout()
			renderOrchestration(out, o)
			subtasks, err := store.ListTasksByOrchestration(ctx, o.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			renderTasks(out, subtasks)
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <orchestration-id>",
		Short: "Stop an orchestration by moving it to FAILED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if err := engine.Cancel(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "orchestration %s cancelled\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "cancelled from the command line", "reason recorded on the orchestration")
	return cmd
}

func newOrderCmd(a *app) *cobra.Command {
	var orchestrationID string

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Show execution levels of tasks",
		Long:  `Groups tasks into dependency levels, highest priority first within a level.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			var tasks []*scheduler.Task
			if orchestrationID != "" {
				tasks, err = store.ListTasksByOrchestration(cmd.Context(), orchestrationID)
			} else {
				tasks, err = store.ListTasks(cmd.Context())
			}
			if err != nil {
				return err
			}
			renderLevels(cmd.OutOrStdout(), scheduler.BuildDependencyGraph(tasks))
			return nil
		},
	}

	cmd.Flags().StringVar(&orchestrationID, "orchestration", "", "only subtasks of this orchestration")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.json>",
		Short: "Validate a plan file without persisting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var plan scheduler.Plan
			if err := json.Unmarshal(data, &plan); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			result := scheduler.ValidatePlan(&plan)
			out := cmd.OutOrStdout()
			for _, msg := range result.Errors {
				fmt.Fprintln(out, errorStyle.Render("error: ")+msg)
			}
			for _, msg := range result.Warnings {
				fmt.Fprintln(out, warnStyle.Render("warning: ")+msg)
			}
			if !result.Valid {
				return &orchestrator.ValidationError{Messages: result.Errors}
			}
			fmt.Fprintf(out, "%s %d subtasks in %d phases\n", okStyle.Render("valid:"), len(plan.Subtasks()), len(plan.Phases))
			return nil
		},
	}
}
