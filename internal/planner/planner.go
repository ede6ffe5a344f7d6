// Package planner implements the planning and agent classification
// collaborators on top of a text-generation backend.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/scheduler"
)

// ErrMalformedResponse reports an answer that does not contain the expected JSON.
var ErrMalformedResponse = errors.New("malformed response")

// RoleSource lists the agents whose roles are offered to the model.
type RoleSource interface {
	ListAgents(ctx context.Context) ([]*scheduler.Agent, error)
}

// Options configures LLMPlanner and LLMClassifier.
type Options struct {
	Backend  backend.Backend
	Breakers *CircuitBreakerRegistry // Optional; a private registry is created when nil
	Retry    RetryConfig             // Zero value means DefaultRetryConfig
	Roles    RoleSource              // Optional
	Logger   *slog.Logger
}

type client struct {
	backend backend.Backend
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	roles   RoleSource
	log     *slog.Logger
}

func newClient(name string, opts Options) (*client, error) {
	if opts.Backend == nil {
		return nil, errors.New("planner: backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Breakers == nil {
		opts.Breakers = NewCircuitBreakerRegistry(opts.Logger)
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	return &client{
		backend: opts.Backend,
		breaker: opts.Breakers.Get(name),
		retry:   opts.Retry,
		roles:   opts.Roles,
		log:     opts.Logger.With("component", name),
	}, nil
}

// activeRoles returns the distinct roles of active agents, sorted. Failures
// are logged and yield no roles.
func (c *client) activeRoles(ctx context.Context) []string {
	if c.roles == nil {
		return nil
	}
	agents, err := c.roles.ListAgents(ctx)
	if err != nil {
		c.log.Warn("failed to list agent roles", "error", err)
		return nil
	}
	var roles []string
	for _, a := range agents {
		if a.Active && !slices.Contains(roles, a.Role) {
			roles = append(roles, a.Role)
		}
	}
	slices.Sort(roles)
	return roles
}

func (c *client) ask(ctx context.Context, prompt string, out any) error {
	resp, err := sendWithRetry(ctx, c.backend, backend.Message{Content: prompt, Role: "user"}, c.breaker, c.retry)
	if err != nil {
		return err
	}
	raw, err := extractJSON(resp.Content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// extractJSON returns the text between the first '{' and the last '}',
// which tolerates prose or code fences around the object.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, truncate(s, 80))
	}
	return s[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LLMPlanner asks a backend to decompose a task into a phased plan.
type LLMPlanner struct {
	*client
}

// NewLLMPlanner creates a planner.
func NewLLMPlanner(opts Options) (*LLMPlanner, error) {
	c, err := newClient("planner", opts)
	if err != nil {
		return nil, err
	}
	return &LLMPlanner{client: c}, nil
}

// Plan returns the decomposition proposed by the model. Priorities are
// normalized to upper case; shape validation is left to the caller.
func (p *LLMPlanner) Plan(ctx context.Context, req scheduler.PlanRequest) (*scheduler.Plan, error) {
	var plan scheduler.Plan
	if err := p.ask(ctx, planPrompt(req, p.activeRoles(ctx)), &plan); err != nil {
		return nil, err
	}

	for i := range plan.Phases {
		for j := range plan.Phases[i].Subtasks {
			st := &plan.Phases[i].Subtasks[j]
			st.Priority = scheduler.Priority(strings.ToUpper(strings.TrimSpace(string(st.Priority))))
			st.Title = strings.TrimSpace(st.Title)
			for k, dep := range st.DependsOn {
				st.DependsOn[k] = strings.TrimSpace(dep)
			}
		}
	}

	p.log.Debug("plan received", "phases", len(plan.Phases), "subtasks", len(plan.Subtasks()))
	return &plan, nil
}

// LLMClassifier asks a backend which agent role fits a task.
type LLMClassifier struct {
	*client
}

// NewLLMClassifier creates a classifier.
func NewLLMClassifier(opts Options) (*LLMClassifier, error) {
	c, err := newClient("classifier", opts)
	if err != nil {
		return nil, err
	}
	return &LLMClassifier{client: c}, nil
}

// SuggestRole returns the suggested role. ok is false when the model has no
// suggestion or names a role no active agent has.
func (c *LLMClassifier) SuggestRole(ctx context.Context, title, description string) (string, bool, error) {
	roles := c.activeRoles(ctx)

	var answer struct {
		Role string `json:"role"`
	}
	if err := c.ask(ctx, classifyPrompt(title, description, roles), &answer); err != nil {
		return "", false, err
	}

	role := strings.TrimSpace(answer.Role)
	if role == "" || strings.EqualFold(role, "none") {
		return "", false, nil
	}
	if roles != nil && !slices.Contains(roles, role) {
		c.log.Debug("classifier suggested an unknown role", "role", role, "title", title)
		return role, false, nil
	}
	return role, true, nil
}
