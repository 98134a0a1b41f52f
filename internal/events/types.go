package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	EntityID() string // Agent or task id the event is about
}

// Publisher is the sink the core announces events to. The core never
// depends on a subscriber being present.
type Publisher interface {
	Publish(topic string, event Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, Event) {}

// Topic constants
const (
	TopicAgent = "agent"
	TopicTask  = "task"
	TopicPool  = "pool"
)

// Event type constants
const (
	EventTypeAgentCreated     = "agent.created"
	EventTypeAgentRemoved     = "agent.removed"
	EventTypeAgentStatus      = "agent.status"
	EventTypeAgentUpdated     = "agent.updated"
	EventTypeTaskCreated      = "task.created"
	EventTypeTaskAssigned     = "task.assigned"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskInterrupted  = "task.interrupted"
	EventTypeTaskBlocked      = "task.blocked"
	EventTypeTaskRequeued     = "task.requeued"
	EventTypeTaskDeleted      = "task.deleted"
	EventTypeTaskDispatchFail = "task.dispatch_failed"
	EventTypePoolProgress     = "pool.progress"
)

// AgentCreatedEvent is published when an agent is registered.
type AgentCreatedEvent struct {
	ID        string
	Name      string
	Type      string
	Status    string
	Timestamp time.Time
}

func (e AgentCreatedEvent) EventType() string { return EventTypeAgentCreated }
func (e AgentCreatedEvent) EntityID() string  { return e.ID }

// AgentRemovedEvent is published after an agent record is deleted.
// InterruptedTaskID is set when the agent was working at removal time.
type AgentRemovedEvent struct {
	ID                string
	Name              string
	InterruptedTaskID string
	Timestamp         time.Time
}

func (e AgentRemovedEvent) EventType() string { return EventTypeAgentRemoved }
func (e AgentRemovedEvent) EntityID() string  { return e.ID }

// AgentStatusEvent is published on every agent status change.
type AgentStatusEvent struct {
	ID        string
	Name      string
	Status    string
	TaskID    string
	Reason    string
	Timestamp time.Time
}

func (e AgentStatusEvent) EventType() string { return EventTypeAgentStatus }
func (e AgentStatusEvent) EntityID() string  { return e.ID }

// AgentUpdatedEvent is published when an agent is renamed or retyped.
type AgentUpdatedEvent struct {
	ID        string
	Name      string
	Type      string
	Timestamp time.Time
}

func (e AgentUpdatedEvent) EventType() string { return EventTypeAgentUpdated }
func (e AgentUpdatedEvent) EntityID() string  { return e.ID }

// TaskCreatedEvent is published when a task is submitted.
type TaskCreatedEvent struct {
	ID        string
	Title     string
	Priority  string
	Status    string
	Timestamp time.Time
}

func (e TaskCreatedEvent) EventType() string { return EventTypeTaskCreated }
func (e TaskCreatedEvent) EntityID() string  { return e.ID }

// TaskAssignedEvent is published when the scheduler commits an assignment.
type TaskAssignedEvent struct {
	ID        string
	Title     string
	AgentID   string
	AgentName string
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) EntityID() string  { return e.ID }

// TaskCompletedEvent is published when a task completes.
type TaskCompletedEvent struct {
	ID        string
	Title     string
	AgentID   string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) EntityID() string  { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	Title     string
	Reason    string
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) EntityID() string  { return e.ID }

// TaskInterruptedEvent is published when a task loses its agent and returns to ready.
type TaskInterruptedEvent struct {
	ID        string
	Title     string
	AgentID   string
	Reason    string
	Timestamp time.Time
}

func (e TaskInterruptedEvent) EventType() string { return EventTypeTaskInterrupted }
func (e TaskInterruptedEvent) EntityID() string  { return e.ID }

// TaskBlockedEvent is published when a task needs intervention.
type TaskBlockedEvent struct {
	ID        string
	Title     string
	Reason    string
	Timestamp time.Time
}

func (e TaskBlockedEvent) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlockedEvent) EntityID() string  { return e.ID }

// TaskRequeuedEvent is published when a blocked or failed task is retried.
type TaskRequeuedEvent struct {
	ID        string
	Title     string
	Status    string
	Timestamp time.Time
}

func (e TaskRequeuedEvent) EventType() string { return EventTypeTaskRequeued }
func (e TaskRequeuedEvent) EntityID() string  { return e.ID }

// TaskDeletedEvent is published when a task is removed from the scheduler.
type TaskDeletedEvent struct {
	ID        string
	Title     string
	Timestamp time.Time
}

func (e TaskDeletedEvent) EventType() string { return EventTypeTaskDeleted }
func (e TaskDeletedEvent) EntityID() string  { return e.ID }

// TaskDispatchFailedEvent is published when a committed prompt could not be
// written to the agent's worker channel.
type TaskDispatchFailedEvent struct {
	ID        string
	Title     string
	AgentID   string
	Reason    string
	Timestamp time.Time
}

func (e TaskDispatchFailedEvent) EventType() string { return EventTypeTaskDispatchFail }
func (e TaskDispatchFailedEvent) EntityID() string  { return e.ID }

// PoolProgressEvent is published after every scheduling pass.
type PoolProgressEvent struct {
	Queued     int
	Ready      int
	InProgress int
	Completed  int
	Failed     int
	Blocked    int
	IdleAgents int
	Timestamp  time.Time
}

func (e PoolProgressEvent) EventType() string { return EventTypePoolProgress }
func (e PoolProgressEvent) EntityID() string  { return "" }
