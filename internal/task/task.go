// Package task defines the task entity and its status transition table.
package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/agentpool/internal/errs"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued     Status = "queued"      // Waiting for dependencies
	StatusReady      Status = "ready"       // Dependencies completed, eligible for assignment
	StatusAssigned   Status = "assigned"    // Matched to an agent, prompt not yet accepted
	StatusInProgress Status = "in_progress" // Agent is working on it
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked" // Needs intervention (conflict or failed dependency)
)

// InFlight reports whether the status holds an agent.
func (s Status) InFlight() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Terminal reports whether no further automatic transition applies.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders ready tasks; higher values are scheduled first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = []string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the declared priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority converts a priority name (case-insensitive) to a Priority.
func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Priority(i), nil
		}
	}
	return PriorityLow, fmt.Errorf("unknown priority %q: %w", s, errs.ErrInvalidSpec)
}

// Task is a unit of work distributed to agents.
type Task struct {
	ID            string
	Title         string
	Description   string
	Priority      Priority
	Rank          int // Tiebreaker within a priority, higher first
	Status        Status
	Requires      []string // Capability tags; empty means any agent qualifies
	Files         []string // Resource hints used only for conflict detection
	DependsOn     []string
	ConflictsWith []string

	AssignedAgentID string // Set only while assigned or in progress
	CompletedBy     string
	BlockReason     string
	BlockedBy       string // Failed ancestor that caused a dependency block
	Error           string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Clone returns a deep copy safe to hand to observers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Requires = cloneStrings(t.Requires)
	cp.Files = cloneStrings(t.Files)
	cp.DependsOn = cloneStrings(t.DependsOn)
	cp.ConflictsWith = cloneStrings(t.ConflictsWith)
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// Prompt renders the text sent to the agent's worker channel.
func (t *Task) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Title)
	if t.Description != "" {
		b.WriteString("\n")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	if len(t.Files) > 0 {
		fmt.Fprintf(&b, "\nFiles: %s\n", strings.Join(t.Files, ", "))
	}
	return b.String()
}

// Spec is the submission payload for a new task.
type Spec struct {
	ID            string   `json:"id,omitempty" yaml:"id,omitempty"`
	Title         string   `json:"title" yaml:"title"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Priority      Priority `json:"priority" yaml:"priority"`
	Rank          int      `json:"rank,omitempty" yaml:"rank,omitempty"`
	Requires      []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	Files         []string `json:"files,omitempty" yaml:"files,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	ConflictsWith []string `json:"conflicts_with,omitempty" yaml:"conflicts_with,omitempty"`
}

// Validate rejects malformed submissions before they reach the scheduler.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("task title is required: %w", errs.ErrInvalidSpec)
	}
	if !s.Priority.Valid() {
		return fmt.Errorf("task %q: %s: %w", s.Title, s.Priority, errs.ErrInvalidSpec)
	}
	for field, values := range map[string][]string{
		"requires":       s.Requires,
		"files":          s.Files,
		"depends_on":     s.DependsOn,
		"conflicts_with": s.ConflictsWith,
	} {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("task %q: blank entry in %s: %w", s.Title, field, errs.ErrInvalidSpec)
			}
			if seen[v] {
				return fmt.Errorf("task %q: duplicate %q in %s: %w", s.Title, v, field, errs.ErrInvalidSpec)
			}
			seen[v] = true
		}
	}
	if s.ID != "" {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("task %q depends on itself: %w", s.ID, errs.ErrInvalidSpec)
			}
		}
		for _, other := range s.ConflictsWith {
			if other == s.ID {
				return fmt.Errorf("task %q conflicts with itself: %w", s.ID, errs.ErrInvalidSpec)
			}
		}
	}
	return nil
}

// New validates spec and builds a queued task. Edges listed in the spec are
// recorded on the task but still have to be inserted into the graph.
func New(spec Spec, now time.Time) (*Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Task{
		ID:            id,
		Title:         strings.TrimSpace(spec.Title),
		Description:   spec.Description,
		Priority:      spec.Priority,
		Rank:          spec.Rank,
		Status:        StatusQueued,
		Requires:      cloneStrings(spec.Requires),
		Files:         cloneStrings(spec.Files),
		DependsOn:     cloneStrings(spec.DependsOn),
		ConflictsWith: cloneStrings(spec.ConflictsWith),
		CreatedAt:     now,
	}, nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
