package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// CommandAdapter runs an arbitrary CLI that reads the prompt on stdin and
// prints the answer on stdout. Codex, goose or a local model wrapper all fit.
type CommandAdapter struct {
	command string
	args    []string
	workDir string
	procMgr *ProcessManager
}

// NewCommandAdapter creates a generic command adapter. cfg.Command is required.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if cfg.Command == "" {
		return nil, errors.New("command backend requires a command")
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	args := cfg.Args
	if cfg.Model != "" {
		args = append([]string{"--model", cfg.Model}, args...)
	}

	return &CommandAdapter{
		command: cfg.Command,
		args:    args,
		workDir: workDir,
		procMgr: procMgr,
	}, nil
}

// Send writes the prompt to the command's stdin and returns its stdout.
func (a *CommandAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.args...)
	cmd.Dir = a.workDir
	cmd.Stdin = strings.NewReader(msg.Content)

	stdout, _, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("%s command failed: %v", a.command, err)}, err
	}
	return Response{Content: strings.TrimSpace(string(stdout))}, nil
}

// Close is a no-op.
func (a *CommandAdapter) Close() error {
	return nil
}
