package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/aristath/agentpool/internal/errs"
	"github.com/aristath/agentpool/internal/events"
	"github.com/aristath/agentpool/internal/task"
)

type record struct {
	agent Agent
	task  *task.Task // Held only while working; never dereferenced here
	seq   uint64
}

// Registry is the authoritative map of agent id to status and assignment.
// Every mutation publishes an agent event after the lock is released.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*record
	seq    uint64
	rev    uint64 // bumped by every mutation
	pub    events.Publisher
	now    func() time.Time
}

// NewRegistry creates an empty registry. A nil publisher discards events.
func NewRegistry(pub events.Publisher) *Registry {
	if pub == nil {
		pub = events.Discard
	}
	return &Registry{
		agents: make(map[string]*record),
		pub:    pub,
		now:    time.Now,
	}
}

// Register inserts a new agent. Status defaults to idle; error and offline
// are accepted for agents whose worker channel could not be provisioned.
func (r *Registry) Register(a Agent) (string, error) {
	if err := a.validate(); err != nil {
		return "", err
	}
	if a.Status == "" {
		a.Status = StatusIdle
	}
	if a.Status == StatusWorking || !a.Status.Valid() {
		return "", errs.InvalidState("agent %q cannot be registered as %s", a.ID, a.Status)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	a.CurrentTaskID = ""
	a = a.Clone()

	r.mu.Lock()
	if _, exists := r.agents[a.ID]; exists {
		r.mu.Unlock()
		return "", errs.InvalidState("agent %q already registered", a.ID)
	}
	r.seq++
	r.rev++
	r.agents[a.ID] = &record{agent: a, seq: r.seq}
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, events.AgentCreatedEvent{
		ID:        a.ID,
		Name:      a.Name,
		Type:      a.Type,
		Status:    string(a.Status),
		Timestamp: r.now(),
	})
	return a.ID, nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return rec.agent.Clone(), true
}

// List returns all agents in registration order.
func (r *Registry) List() []Agent {
	return r.filter(func(Agent) bool { return true })
}

// ListIdle returns idle agents in registration order.
func (r *Registry) ListIdle() []Agent {
	return r.ListByStatus(StatusIdle)
}

// ListByStatus returns agents with the given status in registration order.
func (r *Registry) ListByStatus(status Status) []Agent {
	return r.filter(func(a Agent) bool { return a.Status == status })
}

func (r *Registry) filter(keep func(Agent) bool) []Agent {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.agents))
	for _, rec := range r.agents {
		if keep(rec.agent) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].agent.CreatedAt.Equal(recs[j].agent.CreatedAt) {
			return recs[i].agent.CreatedAt.Before(recs[j].agent.CreatedAt)
		}
		return recs[i].seq < recs[j].seq
	})
	out := make([]Agent, len(recs))
	for i, rec := range recs {
		out[i] = rec.agent.Clone()
	}
	r.mu.RUnlock()
	return out
}

// Revision changes whenever any agent is added, removed or modified.
func (r *Registry) Revision() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rev
}

// Stats counts agents by status.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.agents)}
	for _, rec := range r.agents {
		switch rec.agent.Status {
		case StatusIdle:
			s.Idle++
		case StatusWorking:
			s.Working++
		case StatusError:
			s.Error++
		case StatusOffline:
			s.Offline++
		}
	}
	return s
}

// BeginWork marks an idle agent as working on t.
func (r *Registry) BeginWork(agentID string, t *task.Task) error {
	if t == nil {
		return errs.InvalidState("agent %q: nil task", agentID)
	}

	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errs.NotFound("agent", agentID)
	}
	if rec.agent.Status != StatusIdle {
		status := rec.agent.Status
		r.mu.Unlock()
		return errs.InvalidState("agent %q is %s, not idle", agentID, status)
	}
	rec.agent.Status = StatusWorking
	rec.agent.CurrentTaskID = t.ID
	rec.task = t
	r.rev++
	ev := r.statusEvent(rec, "")
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, ev)
	return nil
}

// CompleteWork returns a working agent to idle and counts the completion.
// It returns the finished task. Calling it on an agent that is not working
// is a no-op returning nil, because completion signals may be duplicated
// or arrive late.
func (r *Registry) CompleteWork(agentID string) (*task.Task, error) {
	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, errs.NotFound("agent", agentID)
	}
	if rec.agent.Status != StatusWorking {
		r.mu.Unlock()
		return nil, nil
	}
	done := r.release(rec)
	rec.agent.TasksCompleted++
	r.rev++
	ev := r.statusEvent(rec, "")
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, ev)
	return done, nil
}

// InterruptWork detaches the in-flight task from a working agent and resets
// it to idle without counting a completion. Returns nil if the agent was
// not working.
func (r *Registry) InterruptWork(agentID string) (*task.Task, error) {
	return r.detach(agentID, "interrupted")
}

// FailWork is InterruptWork for a task that failed; the status event
// carries reason instead of an interruption marker.
func (r *Registry) FailWork(agentID, reason string) (*task.Task, error) {
	if reason == "" {
		reason = "task failed"
	}
	return r.detach(agentID, reason)
}

func (r *Registry) detach(agentID, reason string) (*task.Task, error) {
	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, errs.NotFound("agent", agentID)
	}
	if rec.agent.Status != StatusWorking {
		r.mu.Unlock()
		return nil, nil
	}
	detached := r.release(rec)
	r.rev++
	ev := r.statusEvent(rec, reason)
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, ev)
	return detached, nil
}

// Remove deletes the agent. A working agent is interrupted first and its
// task is returned so the caller can requeue it.
func (r *Registry) Remove(agentID string) (*task.Task, bool) {
	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	var interrupted *task.Task
	if rec.agent.Status == StatusWorking {
		interrupted = r.release(rec)
	}
	delete(r.agents, agentID)
	r.rev++
	r.mu.Unlock()

	ev := events.AgentRemovedEvent{ID: agentID, Name: rec.agent.Name, Timestamp: r.now()}
	if interrupted != nil {
		ev.InterruptedTaskID = interrupted.ID
	}
	r.pub.Publish(events.TopicAgent, ev)
	return interrupted, true
}

// Rename changes the display name.
func (r *Registry) Rename(agentID, name string) error {
	if name == "" {
		return errs.InvalidState("agent %q: empty name", agentID)
	}
	return r.update(agentID, func(a *Agent) { a.Name = name })
}

// Retype changes the role tag used for matching.
func (r *Registry) Retype(agentID, agentType string) error {
	return r.update(agentID, func(a *Agent) { a.Type = agentType })
}

func (r *Registry) update(agentID string, mutate func(*Agent)) error {
	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errs.NotFound("agent", agentID)
	}
	mutate(&rec.agent)
	r.rev++
	ev := events.AgentUpdatedEvent{ID: agentID, Name: rec.agent.Name, Type: rec.agent.Type, Timestamp: r.now()}
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, ev)
	return nil
}

// MarkUnavailable moves a non-working agent to error or offline so the
// scheduler stops matching it. Working agents must be interrupted first.
func (r *Registry) MarkUnavailable(agentID string, status Status, reason string) error {
	if status != StatusError && status != StatusOffline {
		return errs.InvalidState("agent %q: %s is not an unavailable status", agentID, status)
	}

	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errs.NotFound("agent", agentID)
	}
	if rec.agent.Status == StatusWorking {
		r.mu.Unlock()
		return errs.InvalidState("agent %q is working", agentID)
	}
	rec.agent.Status = status
	rec.agent.LastError = reason
	r.rev++
	ev := r.statusEvent(rec, reason)
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, ev)
	return nil
}

// MarkAvailable returns an error or offline agent to idle. Idle agents are
// left unchanged.
func (r *Registry) MarkAvailable(agentID string) error {
	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return errs.NotFound("agent", agentID)
	}
	switch rec.agent.Status {
	case StatusIdle:
		r.mu.Unlock()
		return nil
	case StatusWorking:
		r.mu.Unlock()
		return errs.InvalidState("agent %q is working", agentID)
	}
	rec.agent.Status = StatusIdle
	rec.agent.LastError = ""
	r.rev++
	ev := r.statusEvent(rec, "")
	r.mu.Unlock()

	r.pub.Publish(events.TopicAgent, ev)
	return nil
}

// release clears the assignment of a working record. Caller holds r.mu.
func (r *Registry) release(rec *record) *task.Task {
	t := rec.task
	rec.task = nil
	rec.agent.Status = StatusIdle
	rec.agent.CurrentTaskID = ""
	return t
}

func (r *Registry) statusEvent(rec *record, reason string) events.AgentStatusEvent {
	return events.AgentStatusEvent{
		ID:        rec.agent.ID,
		Name:      rec.agent.Name,
		Status:    string(rec.agent.Status),
		TaskID:    rec.agent.CurrentTaskID,
		Reason:    reason,
		Timestamp: r.now(),
	}
}
