package task

import (
	"errors"
	"testing"
	"time"

	"github.com/aristath/agentpool/internal/errs"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{name: "minimal", spec: Spec{Title: "do it"}},
		{name: "full", spec: Spec{ID: "a", Title: "x", Priority: PriorityCritical, Requires: []string{"go"}, DependsOn: []string{"b"}}},
		{name: "blank title", spec: Spec{Title: "   "}, wantErr: true},
		{name: "unknown priority", spec: Spec{Title: "x", Priority: Priority(9)}, wantErr: true},
		{name: "blank tag", spec: Spec{Title: "x", Requires: []string{""}}, wantErr: true},
		{name: "duplicate file", spec: Spec{Title: "x", Files: []string{"a.go", "a.go"}}, wantErr: true},
		{name: "self dependency", spec: Spec{ID: "a", Title: "x", DependsOn: []string{"a"}}, wantErr: true},
		{name: "self conflict", spec: Spec{ID: "a", Title: "x", ConflictsWith: []string{"a"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errs.ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
		})
	}
}

func TestNewAssignsIDAndQueues(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tk, err := New(Spec{Title: "  build api  ", Files: []string{"api.go"}}, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tk.ID == "" {
		t.Error("expected generated ID")
	}
	if tk.Title != "build api" {
		t.Errorf("Title = %q, want trimmed", tk.Title)
	}
	if tk.Status != StatusQueued {
		t.Errorf("Status = %s, want queued", tk.Status)
	}
	if !tk.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", tk.CreatedAt, now)
	}
}

func TestCloneIsDeep(t *testing.T) {
	started := time.Now()
	orig := &Task{ID: "a", Files: []string{"x.go"}, StartedAt: &started}
	cp := orig.Clone()
	cp.Files[0] = "y.go"
	*cp.StartedAt = started.Add(time.Hour)

	if orig.Files[0] != "x.go" {
		t.Error("Clone shares Files backing array")
	}
	if !orig.StartedAt.Equal(started) {
		t.Error("Clone shares StartedAt pointer")
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("HIGH")
	if err != nil || p != PriorityHigh {
		t.Fatalf("ParsePriority(HIGH) = %v, %v", p, err)
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, errs.ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusQueued, StatusReady, true},
		{StatusQueued, StatusBlocked, true},
		{StatusQueued, StatusAssigned, false},
		{StatusReady, StatusAssigned, true},
		{StatusReady, StatusCompleted, false},
		{StatusAssigned, StatusInProgress, true},
		{StatusAssigned, StatusReady, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusReady, true},
		{StatusInProgress, StatusBlocked, true},
		{StatusBlocked, StatusReady, true},
		{StatusBlocked, StatusInProgress, false},
		{StatusCompleted, StatusReady, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusQueued, true},
		{StatusFailed, StatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			tk := &Task{ID: "t", Status: tt.from}
			err := Transition(tk, tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tk.Status != tt.to {
					t.Errorf("Status = %s, want %s", tk.Status, tt.to)
				}
				return
			}
			var te *errs.TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransitionError, got %v", err)
			}
			if !errors.Is(err, errs.ErrInvalidTransition) {
				t.Error("TransitionError should unwrap to ErrInvalidTransition")
			}
			if tk.Status != tt.from {
				t.Errorf("status mutated on rejected transition: %s", tk.Status)
			}
		})
	}
}
