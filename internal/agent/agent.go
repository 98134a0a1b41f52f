// Package agent holds the agent entity and the registry that owns agent records.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/agentpool/internal/errs"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusError, StatusOffline:
		return true
	}
	return false
}

// Agent is a logical worker bound to one external assistant process.
type Agent struct {
	ID             string
	Name           string
	Type           string // Role tag used for capability matching
	Template       string
	Capabilities   []string
	Status         Status
	CurrentTaskID  string // Empty unless working
	TasksCompleted int
	LastError      string
	CreatedAt      time.Time
}

// Clone returns a copy that does not share slices with a.
func (a Agent) Clone() Agent {
	if a.Capabilities != nil {
		a.Capabilities = append([]string(nil), a.Capabilities...)
	}
	return a
}

// HasType reports whether tag names the agent's role.
func (a Agent) HasType(tag string) bool {
	return a.Type != "" && strings.EqualFold(a.Type, tag)
}

// HasCapability reports whether tag is one of the agent's capabilities.
func (a Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}

func (a Agent) validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("agent id is required: %w", errs.ErrInvalidSpec)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("agent %q: name is required: %w", a.ID, errs.ErrInvalidSpec)
	}
	if a.TasksCompleted < 0 {
		return fmt.Errorf("agent %q: negative tasks completed: %w", a.ID, errs.ErrInvalidSpec)
	}
	return nil
}

// Stats counts agents by status.
type Stats struct {
	Total   int
	Idle    int
	Working int
	Error   int
	Offline int
}
