package channel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Supported channel kinds.
const (
	KindClaude = "claude"
	KindGoose  = "goose"
	KindExec   = "exec"
)

// commandLine returns the binary and arguments for an interactive session.
func commandLine(cfg Config) (string, []string, error) {
	name := cfg.Command
	var args []string

	switch cfg.Kind {
	case KindClaude:
		if name == "" {
			name = "claude"
		}
		// Streaming JSON on stdin keeps a single session open across prompts.
		args = []string{"-p", "--input-format", "stream-json", "--output-format", "stream-json", "--verbose"}
		if cfg.SessionID != "" {
			args = append(args, "--session-id", cfg.SessionID)
		}
		if cfg.Model != "" {
			args = append(args, "--model", cfg.Model)
		}
		if cfg.SystemPrompt != "" {
			args = append(args, "--append-system-prompt", cfg.SystemPrompt)
		}

	case KindGoose:
		if name == "" {
			name = "goose"
		}
		args = []string{"session"}
		if cfg.SessionID != "" {
			args = append(args, "--name", cfg.SessionID)
		}
		if cfg.Provider != "" {
			args = append(args, "--provider", cfg.Provider)
		}
		if cfg.Model != "" {
			args = append(args, "--model", cfg.Model)
		}

	case KindExec, "":
		if name == "" {
			return "", nil, fmt.Errorf("exec channel requires a command")
		}

	default:
		return "", nil, fmt.Errorf("unknown channel kind: %s", cfg.Kind)
	}

	args = append(args, cfg.Args...)
	return name, args, nil
}

// claudeInput is one user turn in Claude's stream-json input format.
type claudeInput struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// frame encodes text as one write for the channel's stdin.
func frame(kind, text string) ([]byte, error) {
	if kind == KindClaude {
		var in claudeInput
		in.Type = "user"
		in.Message.Role = "user"
		in.Message.Content = text
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding prompt: %w", err)
		}
		return append(data, '\n'), nil
	}

	// Line-oriented sessions read one prompt per line.
	line := strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", " ")
	return []byte(line + "\n"), nil
}
