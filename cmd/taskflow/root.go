package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/config"
	"github.com/aristath/taskflow/internal/events"
	"github.com/aristath/taskflow/internal/orchestrator"
	"github.com/aristath/taskflow/internal/persistence"
	"github.com/aristath/taskflow/internal/planner"
	"github.com/aristath/taskflow/internal/queue"
	"github.com/aristath/taskflow/internal/scheduler"
)

// app holds what the commands share: configuration, logger and the lazily
// opened store.
type app struct {
	configPath string
	dbPath     string
	logFormat  string
	logLevel   string

	cfg   *config.Config
	log   *slog.Logger
	procs *backend.ProcessManager
	store *persistence.SQLiteStore
}

func newRootCmd(procs *backend.ProcessManager) *cobra.Command {
	a := &app{procs: procs}

	root := &cobra.Command{
		Use:   "taskflow",
		Short: "Dependency-aware task orchestration",
		Long: `taskflow decomposes parent tasks into dependent subtasks with a planner,
assigns them to agents, and feeds a persistent priority queue as their
dependencies complete.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "project config file (default .taskflow/config.json)")
	flags.StringVar(&a.dbPath, "db", "", "database path (overrides database_path)")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json (overrides log_format)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides log_level)")

	root.AddCommand(
		newTaskCmd(a),
		newAgentCmd(a),
		newOrchestrateCmd(a),
		newStatusCmd(a),
		newCancelCmd(a),
		newMonitorCmd(a),
		newOrderCmd(a),
		newValidateCmd(a),
		newQueueCmd(a),
	)
	return root
}

func (a *app) load(logOut io.Writer) error {
	projectPath := a.configPath
	if projectPath == "" {
		projectPath = config.ProjectPath()
	}
	globalPath, err := config.GlobalPath()
	if err != nil {
		return err
	}

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		a.log = slog.New(slog.NewJSONHandler(logOut, opts))
	} else {
		a.log = slog.New(slog.NewTextHandler(logOut, opts))
	}
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// openStore opens the database once and seeds the configured agents.
func (a *app) openStore(ctx context.Context) (*persistence.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := persistence.NewSQLiteStore(ctx, a.cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := seedAgents(ctx, store, a.cfg.Agents); err != nil {
		store.Close()
		return nil, err
	}
	a.store = store
	return store, nil
}

// seedAgents registers configured agents that are not in the store yet, by
// name, and applies their active flag.
func seedAgents(ctx context.Context, store *persistence.SQLiteStore, agents map[string]config.AgentConfig) error {
	existing, err := store.ListAgents(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]*scheduler.Agent, len(existing))
	for _, agent := range existing {
		byName[agent.Name] = agent
	}

	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		want := agents[name]
		if cur, ok := byName[name]; ok {
			if cur.Active != want.IsActive() {
				if err := store.SetAgentActive(ctx, cur.ID, want.IsActive()); err != nil {
					return err
				}
			}
			continue
		}
		agent := &scheduler.Agent{Name: name, Role: want.Role, Active: want.IsActive()}
		if err := store.CreateAgent(ctx, agent); err != nil {
			return fmt.Errorf("seed agent %q: %w", name, err)
		}
	}
	return nil
}

func (a *app) queue(store *persistence.SQLiteStore) *queue.Queue {
	return queue.New(store, a.cfg.Queue.MaxAttempts)
}

// engine wires the orchestration engine with the configured planner backend.
func (a *app) engine(ctx context.Context, bus *events.EventBus) (*orchestrator.Engine, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	pc := a.cfg.Planner
	b, err := backend.New(backend.Config{
		Type:         pc.Type,
		Command:      pc.Command,
		Args:         pc.Args,
		Model:        pc.Model,
		SystemPrompt: pc.SystemPrompt,
	}, a.procs)
	if err != nil {
		return nil, fmt.Errorf("planner backend: %w", err)
	}

	rc := a.cfg.Retry
	breakers := planner.NewCircuitBreakerRegistry(a.log)
	breakers.FailureThreshold = rc.FailureThreshold
	breakers.OpenTimeout = rc.OpenTimeout.Std()
	opts := planner.Options{
		Backend:  b,
		Breakers: breakers,
		Retry: planner.RetryConfig{
			InitialInterval:     rc.InitialInterval.Std(),
			MaxInterval:         rc.MaxInterval.Std(),
			MaxElapsedTime:      rc.MaxElapsedTime.Std(),
			Multiplier:          rc.Multiplier,
			RandomizationFactor: 0.5,
		},
		Roles:  store,
		Logger: a.log,
	}
	p, err := planner.NewLLMPlanner(opts)
	if err != nil {
		return nil, err
	}
	c, err := planner.NewLLMClassifier(opts)
	if err != nil {
		return nil, err
	}

	retries := int(pc.ClassifyRetries)
	if retries == 0 {
		retries = orchestrator.NoClassifyRetry
	}
	cfg := orchestrator.EngineConfig{
		Store:           store,
		Queue:           a.queue(store),
		Planner:         p,
		Classifier:      c,
		Agents:          store,
		Logger:          a.log,
		PlanTimeout:     pc.PlanTimeout.Std(),
		ClassifyTimeout: pc.ClassifyTimeout.Std(),
		ClassifyRetries: retries,
	}
	if bus != nil {
		cfg.Bus = bus
	}
	return orchestrator.NewEngine(cfg)
}

func parsePriority(s string) (scheduler.Priority, error) {
	p := scheduler.Priority(strings.ToUpper(s))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q (want low, medium, high or urgent)", s)
	}
	return p, nil
}
