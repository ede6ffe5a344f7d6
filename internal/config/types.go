// Package config loads taskflow's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PlannerConfig selects the backend used for planning and classification.
type PlannerConfig struct {
	Type            string   `json:"type"`                    // Backend type: "claude" or "command"
	Command         string   `json:"command,omitempty"`       // CLI binary
	Args            []string `json:"args,omitempty"`          // Extra args appended to every invocation
	Model           string   `json:"model,omitempty"`         // Model override
	SystemPrompt    string   `json:"system_prompt,omitempty"` // Appended system prompt
	PlanTimeout     Duration `json:"plan_timeout"`
	ClassifyTimeout Duration `json:"classify_timeout"`
	ClassifyRetries uint64   `json:"classify_retries"` // Extra classifier attempts; 0 disables retry
}

// RetryConfig configures backoff and circuit breaking around the planner backend.
type RetryConfig struct {
	InitialInterval  Duration `json:"initial_interval"`
	MaxInterval      Duration `json:"max_interval"`
	MaxElapsedTime   Duration `json:"max_elapsed_time"`
	Multiplier       float64  `json:"multiplier"`
	FailureThreshold uint32   `json:"failure_threshold"` // Consecutive failures that open the breaker
	OpenTimeout      Duration `json:"open_timeout"`      // Time the breaker stays open
}

// QueueConfig configures the execution queue.
type QueueConfig struct {
	MaxAttempts int `json:"max_attempts"`
}

// MonitorConfig configures the reconciliation loop.
type MonitorConfig struct {
	Interval    Duration `json:"interval"`
	Concurrency int      `json:"concurrency"`
	ListenAddr  string   `json:"listen_addr,omitempty"` // Serve /metrics and the finish endpoint here when set
}

// AgentConfig declares an agent seeded into the store by name.
type AgentConfig struct {
	Role   string `json:"role"`
	Active *bool  `json:"active,omitempty"` // Defaults to true
}

// IsActive reports whether the agent should be active.
func (a AgentConfig) IsActive() bool {
	return a.Active == nil || *a.Active
}

// Config is the top-level configuration.
type Config struct {
	DatabasePath string                 `json:"database_path"`
	LogLevel     string                 `json:"log_level"`  // debug, info, warn, error
	LogFormat    string                 `json:"log_format"` // text or json
	Planner      PlannerConfig          `json:"planner"`
	Retry        RetryConfig            `json:"retry"`
	Queue        QueueConfig            `json:"queue"`
	Monitor      MonitorConfig          `json:"monitor"`
	Agents       map[string]AgentConfig `json:"agents"`
}
