package backend

import (
	"strings"
	"testing"
)

func TestFactory_CreatesAdapters(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "claude", cfg: Config{Type: "claude", WorkDir: "/tmp"}, want: "*backend.ClaudeAdapter"},
		{name: "command", cfg: Config{Type: "command", Command: "cat", WorkDir: "/tmp"}, want: "*backend.CommandAdapter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg, NewProcessManager())
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			switch b.(type) {
			case *ClaudeAdapter:
				if tt.want != "*backend.ClaudeAdapter" {
					t.Errorf("got ClaudeAdapter, want %s", tt.want)
				}
			case *CommandAdapter:
				if tt.want != "*backend.CommandAdapter" {
					t.Errorf("got CommandAdapter, want %s", tt.want)
				}
			default:
				t.Errorf("unexpected backend type %T", b)
			}
			if err := b.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
	}
}

func TestFactory_UnknownType(t *testing.T) {
	_, err := New(Config{Type: "telepathy"}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown backend type")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestFactory_CommandRequiresBinary(t *testing.T) {
	if _, err := New(Config{Type: "command"}, nil); err == nil {
		t.Fatal("Expected error when command is empty")
	}
}
