package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: filepath.Join(".taskflow", "taskflow.db"),
		LogLevel:     "info",
		LogFormat:    "text",
		Planner: PlannerConfig{
			Type:            "claude",
			Command:         "claude",
			PlanTimeout:     Duration(2 * time.Minute),
			ClassifyTimeout: Duration(30 * time.Second),
			ClassifyRetries: 1,
		},
		Retry: RetryConfig{
			InitialInterval:  Duration(100 * time.Millisecond),
			MaxInterval:      Duration(10 * time.Second),
			MaxElapsedTime:   Duration(time.Minute),
			Multiplier:       2.0,
			FailureThreshold: 5,
			OpenTimeout:      Duration(30 * time.Second),
		},
		Queue: QueueConfig{MaxAttempts: 3},
		Monitor: MonitorConfig{
			Interval:    Duration(30 * time.Second),
			Concurrency: 4,
		},
		Agents: map[string]AgentConfig{
			"coder":    {Role: "coder"},
			"reviewer": {Role: "reviewer"},
			"tester":   {Role: "tester"},
		},
	}
}
