package task

import (
	"github.com/aristath/agentpool/internal/errs"
)

// transitions is the single source of truth for legal status changes.
var transitions = map[Status][]Status{
	StatusQueued:     {StatusReady, StatusBlocked},
	StatusReady:      {StatusAssigned, StatusBlocked, StatusQueued},
	StatusAssigned:   {StatusInProgress, StatusReady, StatusBlocked, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusBlocked, StatusReady},
	StatusBlocked:    {StatusReady, StatusQueued},
	StatusFailed:     {StatusQueued},
	StatusCompleted:  nil,
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves t to status to, or returns a *errs.TransitionError and
// leaves t untouched.
func Transition(t *Task, to Status) error {
	if !CanTransition(t.Status, to) {
		return &errs.TransitionError{TaskID: t.ID, From: string(t.Status), To: string(to)}
	}
	t.Status = to
	return nil
}
