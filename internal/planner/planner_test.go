package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskflow/internal/backend"
	"github.com/aristath/taskflow/internal/scheduler"
)

type reply struct {
	content string
	err     error
}

// scriptedBackend answers with the scripted replies in order; the last one repeats.
type scriptedBackend struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

func (b *scriptedBackend) Send(ctx context.Context, msg backend.Message) (backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := len(b.prompts)
	b.prompts = append(b.prompts, msg.Content)
	if i >= len(b.replies) {
		i = len(b.replies) - 1
	}
	r := b.replies[i]
	return backend.Response{Content: r.content}, r.err
}

func (b *scriptedBackend) Close() error { return nil }

func (b *scriptedBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

type staticRoles []*scheduler.Agent

func (r staticRoles) ListAgents(context.Context) ([]*scheduler.Agent, error) { return r, nil }

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  500 * time.Millisecond,
		Multiplier:      2,
	}
}

const planJSON = `Here is the plan:
` + "```json" + `
{
  "analysis": "API first, then UI",
  "phases": [
    {"name": "backend", "subtasks": [
      {"title": " API ", "agent_role": "backend", "priority": "high", "estimated_hours": 3}
    ]},
    {"name": "frontend", "subtasks": [
      {"title": "UI", "agent_role": "frontend", "priority": "Medium", "depends_on": [" API"]}
    ]}
  ]
}
` + "```"

func TestLLMPlanner_Plan(t *testing.T) {
	b := &scriptedBackend{replies: []reply{{content: planJSON}}}
	p, err := NewLLMPlanner(Options{
		Backend: b,
		Retry:   fastRetry(),
		Roles: staticRoles{
			{Role: "frontend", Active: true},
			{Role: "backend", Active: true},
			{Role: "backend", Active: true},
			{Role: "retired", Active: false},
		},
	})
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), scheduler.PlanRequest{
		Title:          "Checkout page",
		Description:    "Let users pay",
		Priority:       scheduler.PriorityHigh,
		EstimatedHours: 12,
	})
	require.NoError(t, err)

	assert.Equal(t, "API first, then UI", plan.Analysis)
	subtasks := plan.Subtasks()
	require.Len(t, subtasks, 2)
	assert.Equal(t, "API", subtasks[0].Title)
	assert.Equal(t, scheduler.PriorityHigh, subtasks[0].Priority)
	assert.Equal(t, scheduler.PriorityMedium, subtasks[1].Priority)
	assert.Equal(t, []string{"API"}, subtasks[1].DependsOn)
	assert.True(t, scheduler.ValidatePlan(plan).Valid)

	require.Len(t, b.prompts, 1)
	prompt := b.prompts[0]
	assert.Contains(t, prompt, "Task: Checkout page")
	assert.Contains(t, prompt, "Description: Let users pay")
	assert.Contains(t, prompt, "Priority: HIGH")
	assert.Contains(t, prompt, "Estimated effort: 12.0 hours")
	assert.Contains(t, prompt, "Available agent roles: backend, frontend\n")
	assert.NotContains(t, prompt, "retired")
}

func TestLLMPlanner_RetriesTransientFailures(t *testing.T) {
	b := &scriptedBackend{replies: []reply{
		{err: errors.New("exit status 1")},
		{err: errors.New("exit status 1")},
		{content: `{"phases": []}`},
	}}
	p, err := NewLLMPlanner(Options{Backend: b, Retry: fastRetry()})
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), scheduler.PlanRequest{Title: "x"})
	require.NoError(t, err)
	assert.Empty(t, plan.Phases)
	assert.Equal(t, 3, b.calls())
}

func TestLLMPlanner_MalformedResponse(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no object", content: "I cannot help with that."},
		{name: "broken json", content: `{"phases": [}`},
		{name: "wrong shape", content: `{"phases": "soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &scriptedBackend{replies: []reply{{content: tt.content}}}
			p, err := NewLLMPlanner(Options{Backend: b, Retry: fastRetry()})
			require.NoError(t, err)

			_, err = p.Plan(context.Background(), scheduler.PlanRequest{Title: "x"})
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, 1, b.calls(), "malformed answers are not retried")
		})
	}
}

func TestLLMPlanner_StopsOnContextTimeout(t *testing.T) {
	b := &scriptedBackend{replies: []reply{{err: errors.New("busy")}}}
	p, err := NewLLMPlanner(Options{Backend: b, Retry: RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		MaxElapsedTime:  time.Minute,
		Multiplier:      1,
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Plan(ctx, scheduler.PlanRequest{Title: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	registry := NewCircuitBreakerRegistry(nil)
	registry.FailureThreshold = 2
	registry.OpenTimeout = time.Hour

	b := &scriptedBackend{replies: []reply{{err: errors.New("down")}}}
	p, err := NewLLMPlanner(Options{Backend: b, Breakers: registry, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), scheduler.PlanRequest{Title: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, b.calls(), "the open breaker stops further sends")
	assert.Equal(t, gobreaker.StateOpen, registry.Get("planner").State())

	_, err = p.Plan(context.Background(), scheduler.PlanRequest{Title: "y"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, b.calls())
}

func TestCircuitBreakerRegistry_OnePerName(t *testing.T) {
	registry := NewCircuitBreakerRegistry(nil)
	assert.Same(t, registry.Get("planner"), registry.Get("planner"))
	assert.NotSame(t, registry.Get("planner"), registry.Get("classifier"))
}

func TestLLMClassifier_SuggestRole(t *testing.T) {
	roles := staticRoles{{Role: "backend", Active: true}, {Role: "frontend", Active: true}}

	tests := []struct {
		name     string
		content  string
		roles    RoleSource
		wantRole string
		wantOK   bool
	}{
		{name: "known role", content: `{"role": "frontend"}`, roles: roles, wantRole: "frontend", wantOK: true},
		{name: "surrounded by prose", content: "Sure! {\"role\": \" backend \"} Hope that helps.", roles: roles, wantRole: "backend", wantOK: true},
		{name: "empty", content: `{"role": ""}`, roles: roles},
		{name: "none", content: `{"role": "None"}`, roles: roles},
		{name: "unknown role", content: `{"role": "designer"}`, roles: roles, wantRole: "designer"},
		{name: "no roster accepts anything", content: `{"role": "designer"}`, wantRole: "designer", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &scriptedBackend{replies: []reply{{content: tt.content}}}
			c, err := NewLLMClassifier(Options{Backend: b, Retry: fastRetry(), Roles: tt.roles})
			require.NoError(t, err)

			role, ok, err := c.SuggestRole(context.Background(), "Button styles", "Make it blue")
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, role)
			assert.Equal(t, tt.wantOK, ok)
			assert.Contains(t, b.prompts[0], "Task: Button styles")
		})
	}
}

func TestNewClient_RequiresBackend(t *testing.T) {
	_, err := NewLLMPlanner(Options{})
	assert.Error(t, err)
	_, err = NewLLMClassifier(Options{})
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	got, err := extractJSON("prefix {\"a\": {\"b\": 1}} suffix")
	require.NoError(t, err)
	assert.Equal(t, `{"a": {"b": 1}}`, got)

	_, err = extractJSON("} backwards {")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
