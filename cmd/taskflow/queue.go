package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/queue"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the execution queue",
	}
	cmd.AddCommand(newQueueStatusCmd(a), newQueueClearCmd(a), newQueueNextCmd(a), newQueueFailCmd(a))
	return cmd
}

func newQueueStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show entry counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := a.queue(store).Status(cmd.Context())
			if err != nil {
				return err
			}
			renderQueueCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}
}

func newQueueClearCmd(a *app) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete queue entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			var filter *queue.Status
			if status != "" {
				s := queue.Status(strings.ToUpper(status))
				filter = &s
			}
			n, err := a.queue(store).Clear(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only entries in this status")
	return cmd
}

func newQueueNextCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Claim the highest-priority runnable entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := a.queue(store).Next(cmd.Context())
			if err != nil {
				return err
			}
			if entry == nil {
				fmt.Fprintln(cmd.OutOrStdout(), labelStyle.Render("queue is empty"))
				return nil
			}
			renderEntry(cmd.OutOrStdout(), entry)
			return nil
		},
	}
}

func newQueueFailCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Record a failed attempt; the entry is retried until attempts run out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := a.queue(store).Fail(cmd.Context(), args[0], errors.New(reason))
			if err != nil {
				return err
			}
			renderEntry(cmd.OutOrStdout(), entry)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "error", "failed", "failure message")
	return cmd
}
