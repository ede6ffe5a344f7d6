// Package backend runs text-generation CLIs as subprocesses.
package backend

import (
	"context"
	"fmt"
)

// Backend sends prompts to a text-generation CLI.
type Backend interface {
	// Send runs one prompt and returns the generated text.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close releases the backend.
	Close() error
}

// New creates the adapter named by cfg.Type.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeAdapter(cfg, pm)
	case "command":
		return NewCommandAdapter(cfg, pm)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
