package backend

import (
	"context"
	"testing"
)

func TestCommandAdapter_SendPipesPromptThroughStdin(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{Command: "cat", WorkDir: t.TempDir()}, NewProcessManager())
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "  {\"phases\": []}\n"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != `{"phases": []}` {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestCommandAdapter_SendReportsFailure(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
		WorkDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "ignored"})
	if err == nil {
		t.Fatal("Expected error from failing command")
	}
	if resp.Error == "" {
		t.Error("Expected Response.Error to be set")
	}
}

func TestCommandAdapter_ModelFlagPrecedesArgs(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{Command: "llm", Model: "qwen", Args: []string{"-q"}, WorkDir: "/tmp"}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}
	want := []string{"--model", "qwen", "-q"}
	if len(adapter.args) != len(want) {
		t.Fatalf("args = %q, want %q", adapter.args, want)
	}
	for i := range want {
		if adapter.args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, adapter.args[i], want[i])
		}
	}
}
