package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/scheduler"
)

func newAgentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentAddCmd(a), newAgentListCmd(a), newAgentSetActiveCmd(a, "enable", true), newAgentSetActiveCmd(a, "disable", false))
	return cmd
}

func newAgentAddCmd(a *app) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register an active agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			agent := &scheduler.Agent{Name: args[0], Role: role, Active: true}
			if err := store.CreateAgent(cmd.Context(), agent); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), agent.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "agent role (required)")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newAgentListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			agents, err := store.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, agent := range agents {
				state := okStyle.Render("active")
				if !agent.Active {
					state = labelStyle.Render("inactive")
				}
				fmt.Fprintf(out, "%s  %-12s %-12s %s\n", agent.ID, agent.Name, agent.Role, state)
			}
			return nil
		},
	}
}

func newAgentSetActiveCmd(a *app, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <agent-id>",
		Short: use + " an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			return store.SetAgentActive(cmd.Context(), args[0], active)
		},
	}
}
