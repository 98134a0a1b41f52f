// Package channel provides worker channels: long-lived interactive sessions
// with an external coding assistant, one per agent. The scheduling core
// sees a channel only as a text sink that can report being closed.
package channel

import (
	"context"
	"errors"
)

// ErrClosed is returned when sending to a channel whose process has exited
// or that was disposed.
var ErrClosed = errors.New("channel closed")

// Handle identifies a created channel.
type Handle struct {
	ID      string
	AgentID string
}

// Config describes how to start a worker channel.
type Config struct {
	Kind         string   // "claude", "goose" or "exec"
	Command      string   // Binary; defaults to Kind for the assistant kinds
	Args         []string // Appended after the kind-specific arguments
	Env          []string // Extra KEY=VALUE pairs
	WorkDir      string
	SessionID    string
	Model        string
	Provider     string // Goose model provider, e.g. "ollama"
	SystemPrompt string
}

// Provider creates and tears down worker channels.
type Provider interface {
	// Create starts a channel for agentID.
	Create(ctx context.Context, agentID string, cfg Config) (Handle, error)

	// Send writes one prompt to the channel.
	Send(ctx context.Context, h Handle, text string) error

	// OnClosed registers fn to be called when a channel closes without
	// having been disposed.
	OnClosed(fn func(agentID string))

	// Dispose closes the channel. Disposing twice is a no-op.
	Dispose(h Handle) error
}
