package channel

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCommandLine(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantName string
		wantArgs []string
	}{
		{
			name:     "claude defaults",
			cfg:      Config{Kind: KindClaude},
			wantName: "claude",
			wantArgs: []string{"-p", "--input-format", "stream-json", "--output-format", "stream-json", "--verbose"},
		},
		{
			name:     "claude with session, model and role",
			cfg:      Config{Kind: KindClaude, SessionID: "s-1", Model: "opus", SystemPrompt: "You review code."},
			wantName: "claude",
			wantArgs: []string{"-p", "--input-format", "stream-json", "--output-format", "stream-json", "--verbose",
				"--session-id", "s-1", "--model", "opus", "--append-system-prompt", "You review code."},
		},
		{
			name:     "goose local llm",
			cfg:      Config{Kind: KindGoose, SessionID: "agent-1", Provider: "ollama", Model: "qwen"},
			wantName: "goose",
			wantArgs: []string{"session", "--name", "agent-1", "--provider", "ollama", "--model", "qwen"},
		},
		{
			name:     "custom binary keeps kind args",
			cfg:      Config{Kind: KindClaude, Command: "/opt/bin/claude", Args: []string{"--debug"}},
			wantName: "/opt/bin/claude",
			wantArgs: []string{"-p", "--input-format", "stream-json", "--output-format", "stream-json", "--verbose", "--debug"},
		},
		{
			name:     "exec",
			cfg:      Config{Kind: KindExec, Command: "aider", Args: []string{"--yes"}},
			wantName: "aider",
			wantArgs: []string{"--yes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, err := commandLine(tt.cfg)
			if err != nil {
				t.Fatalf("commandLine: %v", err)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %q, want %q", args, tt.wantArgs)
			}
		})
	}
}

func TestFrame(t *testing.T) {
	data, err := frame(KindClaude, "Fix the \"login\" bug\nin auth.go")
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("claude frame must be newline terminated")
	}
	var in claudeInput
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	if in.Type != "user" || in.Message.Role != "user" || in.Message.Content != "Fix the \"login\" bug\nin auth.go" {
		t.Errorf("decoded frame = %+v", in)
	}

	line, _ := frame(KindGoose, "two\nlines\n")
	if string(line) != "two lines\n" {
		t.Errorf("line frame = %q", line)
	}
}
