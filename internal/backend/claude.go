package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ClaudeAdapter runs the claude CLI in print mode, one process per prompt.
type ClaudeAdapter struct {
	command      string
	args         []string
	workDir      string
	model        string
	systemPrompt string
	procMgr      *ProcessManager
}

// claudeResponse is the JSON printed by `claude -p --output-format json`.
// Result is either plain text or a list of content blocks.
type claudeResponse struct {
	IsError bool            `json:"is_error"`
	Result  json.RawMessage `json:"result"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewClaudeAdapter creates a claude adapter. pm may be nil.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &ClaudeAdapter{
		command:      command,
		args:         cfg.Args,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Send runs one prompt through the claude CLI.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.buildArgs(msg)...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("claude command failed: %v", err)}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(stderr)),
		}, err
	}
	return resp, nil
}

// Close is a no-op; every Send is its own process.
func (a *ClaudeAdapter) Close() error {
	return nil
}

func (a *ClaudeAdapter) buildArgs(msg Message) []string {
	args := []string{"-p", msg.Content, "--output-format", "json"}
	if a.model != "" {
		args = append(args, "--model", a.model)
	}
	if a.systemPrompt != "" {
		args = append(args, "--system-prompt", a.systemPrompt)
	}
	return append(args, a.args...)
}

func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if len(cr.Result) == 0 {
		return Response{}, errors.New("response has no result")
	}

	var content string
	if err := json.Unmarshal(cr.Result, &content); err != nil {
		var blocks []contentBlock
		if err := json.Unmarshal(cr.Result, &blocks); err != nil {
			var wrapped struct {
				Content []contentBlock `json:"content"`
			}
			if err := json.Unmarshal(cr.Result, &wrapped); err != nil {
				return Response{}, fmt.Errorf("unrecognised result shape: %w", err)
			}
			blocks = wrapped.Content
		}
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		content = sb.String()
	}

	if cr.IsError {
		return Response{Content: content, Error: content}, fmt.Errorf("claude reported an error: %s", content)
	}
	return Response{Content: content}, nil
}
