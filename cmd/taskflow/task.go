package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/scheduler"
)

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, finish and inspect tasks",
	}
	cmd.AddCommand(newTaskCreateCmd(a), newTaskFinishCmd(a), newTaskListCmd(a), newTaskHistoryCmd(a))
	return cmd
}

func newTaskCreateCmd(a *app) *cobra.Command {
	var (
		description string
		priority    string
		hours       float64
		dependsOn   []string
		agentID     string
	)

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePriority(priority)
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}

			task := &scheduler.Task{
				Title:          args[0],
				Description:    description,
				Priority:       p,
				EstimatedHours: hours,
				DependsOn:      dependsOn,
				AgentID:        agentID,
			}
			if err := store.CreateTask(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "medium", "low, medium, high or urgent")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	cmd.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "IDs of tasks this one waits for")
	cmd.Flags().StringVar(&agentID, "agent", "", "assigned agent ID")
	return cmd
}

func newTaskFinishCmd(a *app) *cobra.Command {
	var (
		actor string
		via   string
	)

	cmd := &cobra.Command{
		Use:   "finish <task-id>",
		Short: "Mark a task DONE and unlock its dependents",
		Long: `Marks a task DONE and unlocks its dependents. With --via, the task is
finished through a running monitor's HTTP address and the monitor reconciles
it; otherwise it is reconciled in this process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if via != "" {
				return finishVia(ctx, cmd.OutOrStdout(), via, args[0], actor)
			}

			engine, err := a.engine(ctx, nil)
			if err != nil {
				return err
			}

			changed, err := engine.FinishTask(ctx, args[0], actor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !changed {
				fmt.Fprintf(out, "task %s was already DONE\n", args[0])
			}

			// No bus in a one-shot process: reconcile inline
			result, err := orchestrator.NewReconciler(engine, nil).HandleTaskFinished(ctx, args[0])
			if err != nil {
				return err
			}
			for _, id := range result.Enqueued {
				fmt.Fprintf(out, "enqueued %s\n", id)
			}
			if result.OrchestrationID != "" {
				fmt.Fprintf(out, "orchestration %s: %d/%d subtasks complete\n", result.OrchestrationID, result.Completed, result.Total)
			}
			if result.CompletedNow {
				fmt.Fprintln(out, okStyle.Render("orchestration completed"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "cli", "who finished the task (recorded in the audit log)")
	cmd.Flags().StringVar(&via, "via", "", "base URL of a running monitor (e.g. http://localhost:9090)")
	return cmd
}

// finishVia posts the finish to a monitor started with --listen.
func finishVia(ctx context.Context, out io.Writer, baseURL, taskID, actor string) error {
	endpoint := strings.TrimSuffix(baseURL, "/") + "/tasks/" + url.PathEscape(taskID) +
		"/finish?actor=" + url.QueryEscape(actor)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("finish via monitor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusNotFound {
			return &orchestrator.NotFoundError{Resource: "task", ID: taskID}
		}
		return fmt.Errorf("finish via monitor: %s: %s", resp.Status, msg)
	}

	var result finishResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode monitor response: %w", err)
	}
	if !result.Changed {
		fmt.Fprintf(out, "task %s was already DONE\n", taskID)
		return nil
	}
	fmt.Fprintf(out, "task %s finished; the monitor reconciles its dependents\n", taskID)
	return nil
}

func newTaskListCmd(a *app) *cobra.Command {
	var orchestrationID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
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
			renderTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&orchestrationID, "orchestration", "", "only subtasks of this orchestration")
	return cmd
}

func newTaskHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the status audit log of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			changes, err := store.ListStatusChanges(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range changes {
				fmt.Fprintf(out, "%s  %s -> %s  by %s", c.CreatedAt.Format(time.RFC3339), c.From, c.To, c.Actor)
				if c.Reason != "" {
					fmt.Fprintf(out, " (%s)", c.Reason)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}
