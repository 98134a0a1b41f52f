// Package errs defines the error taxonomy shared by the scheduling core.
//
// Callers inspect errors with errors.Is against the sentinels below; the
// typed errors carry extra context and unwrap to their sentinel.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports an unknown agent or task id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState reports an operation against an entity in the wrong state.
	ErrInvalidState = errors.New("invalid state")
	// ErrCycle reports a dependency edge that would close a cycle.
	ErrCycle = errors.New("dependency cycle")
	// ErrInvalidTransition reports an edge missing from the task transition table.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidSpec reports a malformed task or agent payload.
	ErrInvalidSpec = errors.New("invalid spec")
	// ErrProvisioning reports a worker channel or environment that could not be created.
	ErrProvisioning = errors.New("provisioning failed")
)

// NotFound returns an ErrNotFound wrapped with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// InvalidState returns an ErrInvalidState wrapped with a description.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

// CycleError is returned when adding TaskID -> DependsOn would create a cycle.
// Path lists the existing chain from DependsOn back to TaskID.
type CycleError struct {
	TaskID    string
	DependsOn string
	Path      []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("task %q cannot depend on %q: %v", e.TaskID, e.DependsOn, ErrCycle)
	}
	return fmt.Sprintf("task %q cannot depend on %q: %v (%s)", e.TaskID, e.DependsOn, ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// TransitionError is returned for a task status change outside the transition table.
type TransitionError struct {
	TaskID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %q: %s -> %s: %v", e.TaskID, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
