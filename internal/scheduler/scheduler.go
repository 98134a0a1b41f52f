package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/errs"
	"github.com/aristath/agentpool/internal/events"
	"github.com/aristath/agentpool/internal/task"
)

// Dispatcher delivers a committed assignment's prompt to the agent's
// worker channel. It is called after the scheduler lock is released.
type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, t *task.Task) error
}

// Persister receives a snapshot after every committed mutation.
type Persister interface {
	SaveAgentSnapshot(ctx context.Context, agents []agent.Agent) error
	SaveTaskSnapshot(ctx context.Context, tasks []*task.Task) error
}

// Config wires a Scheduler to its collaborators. Registry is required.
type Config struct {
	Registry   *agent.Registry
	Publisher  events.Publisher // Must not call back into the Scheduler synchronously
	Dispatcher Dispatcher
	Persister  Persister
	Matcher    Matcher

	// FallbackToAnyIdle assigns a task to the first idle agent when no
	// agent scores positively for it.
	FallbackToAnyIdle bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Stats counts tasks by status.
type Stats struct {
	Total      int
	Queued     int
	Ready      int
	Assigned   int
	InProgress int
	Completed  int
	Failed     int
	Blocked    int
}

// Scheduler is the only component that commits task to agent assignments.
// Every public operation runs to completion under one mutex, including the
// scheduling pass it triggers. Prompt dispatch, event delivery and
// persistence happen after the mutex is released.
type Scheduler struct {
	mu       sync.Mutex
	registry *agent.Registry
	graph    *DependencyGraph
	queue    *PriorityQueue
	matcher  Matcher
	fallback bool
	pub      events.Publisher
	log      *slog.Logger
	now      func() time.Time

	dispatchMu sync.RWMutex
	dispatcher Dispatcher

	persister Persister
	persistMu sync.Mutex
	version   uint64 // guarded by mu
	moves     uint64 // task transitions; guarded by mu
	snapMoves uint64 // moves at the last snapshot; guarded by mu
	snapRev   uint64 // registry revision at the last agent snapshot; guarded by mu
	saved     uint64 // guarded by persistMu
}

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	s := &Scheduler{
		registry:   cfg.Registry,
		graph:      NewDependencyGraph(),
		queue:      NewPriorityQueue(),
		matcher:    cfg.Matcher,
		fallback:   cfg.FallbackToAnyIdle,
		pub:        cfg.Publisher,
		log:        cfg.Logger,
		now:        cfg.Now,
		dispatcher: cfg.Dispatcher,
		persister:  cfg.Persister,
	}
	if s.matcher == nil {
		s.matcher = DefaultMatcher{}
	}
	if s.pub == nil {
		s.pub = events.Discard
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// SetDispatcher replaces the dispatcher. The lifecycle coordinator is
// built after the scheduler and registers itself here.
func (s *Scheduler) SetDispatcher(d Dispatcher) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.dispatcher = d
}

type published struct {
	topic string
	event events.Event
}

type assignment struct {
	agentID string
	task    *task.Task
}

type snapshot struct {
	version   uint64
	agents    []agent.Agent
	tasks     []*task.Task
	tasksOnly bool
}

// effects collects the side effects of one locked operation.
type effects struct {
	events   []published
	dispatch []assignment
	snapshot *snapshot

	idle      bool // op changed nothing itself
	tasksOnly bool // leave the persisted agents alone
}

func (fx *effects) publish(topic string, ev events.Event) {
	fx.events = append(fx.events, published{topic: topic, event: ev})
}

// do runs op under the lock. On success it runs a scheduling pass and
// takes a snapshot before unlocking, then flushes side effects.
func (s *Scheduler) do(ctx context.Context, op func(fx *effects) error) error {
	fx := &effects{}

	s.mu.Lock()
	err := op(fx)
	if err == nil {
		s.passLocked(fx)
		if !fx.idle || s.dirtyLocked() {
			s.snapshotLocked(fx)
		}
	}
	s.mu.Unlock()

	s.flush(ctx, fx)
	return err
}

// Submit validates spec, inserts the task with its edges and runs a pass.
// It returns a copy of the task as stored.
func (s *Scheduler) Submit(ctx context.Context, spec task.Spec) (*task.Task, error) {
	t, err := task.New(spec, s.now())
	if err != nil {
		return nil, err
	}

	var out *task.Task
	err = s.do(ctx, func(fx *effects) error {
		for _, id := range append(append([]string(nil), t.DependsOn...), t.ConflictsWith...) {
			if _, ok := s.graph.Get(id); !ok {
				return errs.NotFound("task", id)
			}
		}

		deps, conflicts := t.DependsOn, t.ConflictsWith
		t.DependsOn, t.ConflictsWith = nil, nil
		if err := s.graph.AddTask(t); err != nil {
			return err
		}
		for _, dep := range deps {
			if err := s.graph.AddDependency(t.ID, dep); err != nil {
				s.graph.RemoveTask(t.ID)
				return err
			}
		}
		for _, other := range conflicts {
			if err := s.graph.AddConflict(t.ID, other); err != nil {
				s.graph.RemoveTask(t.ID)
				return err
			}
		}
		s.queue.Sequence(t)

		s.log.Info("task submitted", "task", t.ID, "title", t.Title, "priority", t.Priority.String())
		fx.publish(events.TopicTask, events.TaskCreatedEvent{
			ID:        t.ID,
			Title:     t.Title,
			Priority:  t.Priority.String(),
			Status:    string(t.Status),
			Timestamp: s.now(),
		})
		out = t.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddDependency records that taskID depends on dependsOnID. A ready task
// gaining an unfinished dependency goes back to queued. Cycles are
// rejected with *errs.CycleError and leave the graph unchanged.
func (s *Scheduler) AddDependency(ctx context.Context, taskID, dependsOnID string) error {
	return s.do(ctx, func(fx *effects) error {
		t, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		if t.Status.InFlight() || t.Status == task.StatusCompleted {
			return errs.InvalidState("task %q is %s", taskID, t.Status)
		}
		if err := s.graph.AddDependency(taskID, dependsOnID); err != nil {
			s.log.Warn("dependency rejected", "task", taskID, "depends_on", dependsOnID, "error", err)
			return err
		}
		if t.Status == task.StatusReady && !s.graph.IsReady(taskID) {
			if err := s.transition(t, task.StatusQueued); err != nil {
				return err
			}
			s.queue.Dequeue(taskID)
		}
		return nil
	})
}

// AddConflict records a symmetric conflict between two tasks. It is
// rejected when both tasks are already in flight.
func (s *Scheduler) AddConflict(ctx context.Context, taskID, otherID string) error {
	return s.do(ctx, func(fx *effects) error {
		a, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		b, ok := s.graph.Get(otherID)
		if !ok {
			return errs.NotFound("task", otherID)
		}
		if a.Status.InFlight() && b.Status.InFlight() {
			return errs.InvalidState("tasks %q and %q are both in flight", taskID, otherID)
		}
		return s.graph.AddConflict(taskID, otherID)
	})
}

// CompleteTask records an external completion signal. A duplicate signal
// for an already completed task is a no-op. A late signal from an agent
// that no longer holds the task is rejected without changing state.
func (s *Scheduler) CompleteTask(ctx context.Context, agentID, taskID string) error {
	return s.do(ctx, func(fx *effects) error {
		t, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		if t.Status == task.StatusCompleted {
			s.log.Debug("duplicate completion ignored", "task", taskID, "agent", agentID)
			return nil
		}
		if _, ok := s.registry.Get(agentID); !ok {
			return errs.NotFound("agent", agentID)
		}
		if t.Status != task.StatusInProgress || t.AssignedAgentID != agentID {
			return errs.InvalidState("task %q is %s and not held by agent %q", taskID, t.Status, agentID)
		}

		if err := s.transition(t, task.StatusCompleted); err != nil {
			return err
		}
		if _, err := s.registry.CompleteWork(agentID); err != nil {
			s.log.Error("registry completion failed", "agent", agentID, "task", taskID, "error", err)
		}

		now := s.now()
		var took time.Duration
		if t.StartedAt != nil {
			took = now.Sub(*t.StartedAt)
		}
		t.AssignedAgentID = ""
		t.CompletedBy = agentID
		t.CompletedAt = &now
		s.graph.Release(t)

		s.log.Info("task completed", "task", taskID, "agent", agentID, "duration", took)
		fx.publish(events.TopicTask, events.TaskCompletedEvent{
			ID:        taskID,
			Title:     t.Title,
			AgentID:   agentID,
			Duration:  took,
			Timestamp: now,
		})
		return nil
	})
}

// FailTask records an explicit failure of an in-flight task. The agent is
// released without counting a completion and every transitive dependent
// that has not started is blocked.
func (s *Scheduler) FailTask(ctx context.Context, taskID, reason string) error {
	return s.do(ctx, func(fx *effects) error {
		t, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		if t.Status == task.StatusFailed {
			return nil
		}
		agentID := t.AssignedAgentID
		if err := s.transition(t, task.StatusFailed); err != nil {
			return err
		}
		if agentID != "" {
			if _, err := s.registry.FailWork(agentID, reason); err != nil {
				s.log.Error("registry release failed", "agent", agentID, "task", taskID, "error", err)
			}
		}
		t.AssignedAgentID = ""
		t.Error = reason
		s.graph.Release(t)

		s.log.Warn("task failed", "task", taskID, "agent", agentID, "reason", reason)
		fx.publish(events.TopicTask, events.TaskFailedEvent{
			ID:        taskID,
			Title:     t.Title,
			Reason:    reason,
			Timestamp: s.now(),
		})
		s.blockDescendantsLocked(t, fx)
		return nil
	})
}

func (s *Scheduler) blockDescendantsLocked(root *task.Task, fx *effects) {
	reason := fmt.Sprintf("dependency %q failed", root.ID)
	seen := map[string]bool{root.ID: true}
	pending := s.graph.Dependents(root.ID)
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		d, _ := s.graph.Get(id)
		if d.Status == task.StatusQueued || d.Status == task.StatusReady {
			if err := s.transition(d, task.StatusBlocked); err != nil {
				continue
			}
			s.queue.Dequeue(id)
			d.BlockReason = reason
			d.BlockedBy = root.ID
			fx.publish(events.TopicTask, events.TaskBlockedEvent{
				ID:        id,
				Title:     d.Title,
				Reason:    reason,
				Timestamp: s.now(),
			})
		}
		pending = append(pending, s.graph.Dependents(id)...)
	}
}

// InterruptAgent handles a worker channel that went away. The agent's
// in-flight task returns to ready and the agent becomes idle, or offline
// when markOffline is set.
func (s *Scheduler) InterruptAgent(ctx context.Context, agentID string, markOffline bool) error {
	return s.do(ctx, func(fx *effects) error {
		t, err := s.registry.InterruptWork(agentID)
		if err != nil {
			return err
		}
		if t != nil {
			s.requeueLocked(t, agentID, "agent interrupted", fx)
		}
		if markOffline {
			if err := s.registry.MarkUnavailable(agentID, agent.StatusOffline, "worker channel closed"); err != nil {
				s.log.Warn("mark offline failed", "agent", agentID, "error", err)
			}
		}
		return nil
	})
}

// RemoveAgent deletes an agent. Its in-flight task, if any, returns to
// ready. It reports whether the agent existed.
func (s *Scheduler) RemoveAgent(ctx context.Context, agentID string) (bool, error) {
	var removed bool
	err := s.do(ctx, func(fx *effects) error {
		t, ok := s.registry.Remove(agentID)
		if !ok {
			return nil
		}
		removed = true
		if t != nil {
			s.requeueLocked(t, agentID, "agent removed", fx)
		}
		s.log.Info("agent removed", "agent", agentID)
		return nil
	})
	return removed, err
}

// requeueLocked returns an interrupted in-flight task to ready.
func (s *Scheduler) requeueLocked(t *task.Task, agentID, reason string, fx *effects) {
	live, ok := s.graph.Get(t.ID)
	if !ok || live != t {
		s.log.Error("interrupted task unknown to scheduler", "task", t.ID, "agent", agentID)
		return
	}
	if err := s.transition(t, task.StatusReady); err != nil {
		return
	}
	t.AssignedAgentID = ""
	t.StartedAt = nil
	s.graph.Release(t)
	s.queue.Push(t)

	s.log.Info("task interrupted", "task", t.ID, "agent", agentID, "reason", reason)
	fx.publish(events.TopicTask, events.TaskInterruptedEvent{
		ID:        t.ID,
		Title:     t.Title,
		AgentID:   agentID,
		Reason:    reason,
		Timestamp: s.now(),
	})
}

// RetryTask returns a blocked or failed task to the pipeline. Retrying a
// failed task also releases the dependents it blocked.
func (s *Scheduler) RetryTask(ctx context.Context, taskID string) error {
	return s.do(ctx, func(fx *effects) error {
		t, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		switch t.Status {
		case task.StatusBlocked:
			if dep, failed := s.graph.FailedDependency(taskID); failed {
				return errs.InvalidState("task %q: dependency %q is still failed", taskID, dep)
			}
			s.unblockLocked(t, fx)
		case task.StatusFailed:
			if err := s.transition(t, task.StatusQueued); err != nil {
				return err
			}
			t.Error = ""
			t.CompletedAt = nil
			s.requeuedEvent(t, fx)
			for _, other := range s.graph.Tasks() {
				if other.Status == task.StatusBlocked && other.BlockedBy == taskID {
					s.unblockLocked(other, fx)
				}
			}
		default:
			return errs.InvalidState("task %q is %s; only blocked or failed tasks can be retried", taskID, t.Status)
		}
		return nil
	})
}

// unblockLocked moves a blocked task to ready when its dependencies are
// done, otherwise back to queued.
func (s *Scheduler) unblockLocked(t *task.Task, fx *effects) {
	to := task.StatusQueued
	if s.graph.IsReady(t.ID) {
		to = task.StatusReady
	}
	if err := s.transition(t, to); err != nil {
		return
	}
	t.BlockReason = ""
	t.BlockedBy = ""
	if to == task.StatusReady {
		s.queue.Push(t)
	}
	s.requeuedEvent(t, fx)
}

func (s *Scheduler) requeuedEvent(t *task.Task, fx *effects) {
	fx.publish(events.TopicTask, events.TaskRequeuedEvent{
		ID:        t.ID,
		Title:     t.Title,
		Status:    string(t.Status),
		Timestamp: s.now(),
	})
}

// BlockTask parks a task until someone retries it. An in-flight task's
// agent is released first.
func (s *Scheduler) BlockTask(ctx context.Context, taskID, reason string) error {
	return s.do(ctx, func(fx *effects) error {
		t, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		agentID := t.AssignedAgentID
		if err := s.transition(t, task.StatusBlocked); err != nil {
			return err
		}
		if agentID != "" {
			if _, err := s.registry.InterruptWork(agentID); err != nil {
				s.log.Error("registry release failed", "agent", agentID, "task", taskID, "error", err)
			}
			t.AssignedAgentID = ""
			t.StartedAt = nil
			s.graph.Release(t)
		}
		s.queue.Dequeue(taskID)
		t.BlockReason = reason
		t.BlockedBy = ""

		s.log.Info("task blocked", "task", taskID, "reason", reason)
		fx.publish(events.TopicTask, events.TaskBlockedEvent{
			ID:        taskID,
			Title:     t.Title,
			Reason:    reason,
			Timestamp: s.now(),
		})
		return nil
	})
}

// DeleteTask removes a task and its edges. In-flight tasks cannot be
// deleted; interrupt or fail them first.
func (s *Scheduler) DeleteTask(ctx context.Context, taskID string) error {
	return s.do(ctx, func(fx *effects) error {
		t, ok := s.graph.Get(taskID)
		if !ok {
			return errs.NotFound("task", taskID)
		}
		if t.Status.InFlight() {
			return errs.InvalidState("task %q is %s", taskID, t.Status)
		}
		s.graph.RemoveTask(taskID)
		s.queue.Forget(taskID)
		for _, other := range s.graph.Tasks() {
			if other.Status == task.StatusBlocked && other.BlockedBy == taskID {
				s.unblockLocked(other, fx)
			}
		}

		s.log.Info("task deleted", "task", taskID)
		fx.publish(events.TopicTask, events.TaskDeletedEvent{ID: taskID, Title: t.Title, Timestamp: s.now()})
		return nil
	})
}

// Reschedule runs a scheduling pass. Callers use it after changing the
// registry outside the scheduler, e.g. after spawning, so the change is
// matched against ready tasks and persisted. A pass that finds nothing
// changed saves no snapshot.
func (s *Scheduler) Reschedule(ctx context.Context) {
	_ = s.do(ctx, func(fx *effects) error {
		fx.idle = true
		return nil
	})
}

// Tick runs Reschedule every interval until ctx is done.
func (s *Scheduler) Tick(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reschedule(ctx)
		}
	}
}

// Restore loads tasks from a snapshot into an empty scheduler. Tasks that
// were in flight come back as ready because their worker channels did not
// survive the restart. Edges to unknown tasks are dropped with a warning.
// The snapshot it saves covers tasks only; persisted agents stay as they
// are until the caller re-registers them and calls Reschedule.
func (s *Scheduler) Restore(ctx context.Context, tasks []*task.Task) error {
	return s.do(ctx, func(fx *effects) error {
		fx.tasksOnly = true
		if s.graph.Len() > 0 {
			return errs.InvalidState("restore into a scheduler holding %d tasks", s.graph.Len())
		}

		restored := make([]*task.Task, 0, len(tasks))
		edges := make(map[string][2][]string, len(tasks))
		for _, in := range tasks {
			t := in.Clone()
			edges[t.ID] = [2][]string{t.DependsOn, t.ConflictsWith}
			t.DependsOn, t.ConflictsWith = nil, nil
			if err := s.graph.AddTask(t); err != nil {
				return err
			}
			restored = append(restored, t)
		}
		sort.SliceStable(restored, func(i, j int) bool {
			return restored[i].CreatedAt.Before(restored[j].CreatedAt)
		})

		for _, t := range restored {
			e := edges[t.ID]
			for _, dep := range e[0] {
				if err := s.graph.AddDependency(t.ID, dep); err != nil {
					s.log.Warn("dropping restored dependency", "task", t.ID, "depends_on", dep, "error", err)
				}
			}
			for _, other := range e[1] {
				if _, ok := s.graph.Get(other); !ok {
					s.log.Warn("dropping restored conflict", "task", t.ID, "conflicts_with", other)
					continue
				}
				_ = s.graph.AddConflict(t.ID, other)
			}
		}

		for _, t := range restored {
			s.queue.Sequence(t)
			if t.Status.InFlight() {
				if err := s.transition(t, task.StatusReady); err != nil {
					return err
				}
				t.AssignedAgentID = ""
				t.StartedAt = nil
			}
			if t.Status == task.StatusReady {
				if !s.graph.IsReady(t.ID) {
					_ = s.transition(t, task.StatusQueued)
					continue
				}
				s.queue.Push(t)
			}
		}
		s.log.Info("tasks restored", "count", len(restored))
		return nil
	})
}

// Task returns a copy of the task.
func (s *Scheduler) Task(taskID string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.graph.Get(taskID)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns copies of every task in creation order.
func (s *Scheduler) Tasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneTasksLocked(s.graph.Tasks())
}

// ReadyTasks returns copies of the ready queue in scheduling order.
func (s *Scheduler) ReadyTasks() []*task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneTasksLocked(s.queue.PeekReady())
}

func (s *Scheduler) cloneTasksLocked(in []*task.Task) []*task.Task {
	out := make([]*task.Task, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}

// Stats counts tasks by status.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Scheduler) statsLocked() Stats {
	st := Stats{Total: s.graph.Len()}
	for _, t := range s.graph.tasks {
		switch t.Status {
		case task.StatusQueued:
			st.Queued++
		case task.StatusReady:
			st.Ready++
		case task.StatusAssigned:
			st.Assigned++
		case task.StatusInProgress:
			st.InProgress++
		case task.StatusCompleted:
			st.Completed++
		case task.StatusFailed:
			st.Failed++
		case task.StatusBlocked:
			st.Blocked++
		}
	}
	return st
}

// passLocked promotes queued tasks whose dependencies are done, blocks those
// whose dependencies failed, then matches ready tasks to idle agents in
// queue order. Unmatchable tasks are skipped so they never starve the rest.
func (s *Scheduler) passLocked(fx *effects) {
	for _, t := range s.graph.Tasks() {
		if t.Status != task.StatusQueued {
			continue
		}
		if dep, failed := s.graph.FailedDependency(t.ID); failed {
			if s.transition(t, task.StatusBlocked) == nil {
				t.BlockReason = fmt.Sprintf("dependency %q failed", dep)
				t.BlockedBy = dep
				fx.publish(events.TopicTask, events.TaskBlockedEvent{
					ID:        t.ID,
					Title:     t.Title,
					Reason:    t.BlockReason,
					Timestamp: s.now(),
				})
			}
			continue
		}
		if s.graph.IsReady(t.ID) && s.transition(t, task.StatusReady) == nil {
			s.queue.Push(t)
		}
	}

	idle := s.registry.ListIdle()
	for _, t := range s.queue.PeekReady() {
		if len(idle) == 0 {
			break
		}
		if other, busy := s.graph.InFlightConflict(t.ID); busy {
			s.log.Debug("task deferred by conflict", "task", t.ID, "conflicts_with", other)
			continue
		}
		a, ok := FindBest(s.matcher, idle, t)
		if !ok && s.fallback {
			a, ok = idle[0], true
		}
		if !ok {
			continue
		}
		if err := s.commitLocked(a, t, fx); err != nil {
			s.log.Warn("assignment skipped", "task", t.ID, "agent", a.ID, "error", err)
		}
		idle = removeAgent(idle, a.ID)
	}

	st := s.statsLocked()
	fx.publish(events.TopicPool, events.PoolProgressEvent{
		Queued:     st.Queued,
		Ready:      st.Ready,
		InProgress: st.Assigned + st.InProgress,
		Completed:  st.Completed,
		Failed:     st.Failed,
		Blocked:    st.Blocked,
		IdleAgents: len(idle),
		Timestamp:  s.now(),
	})
}

// commitLocked performs the task transition and registry update for one
// assignment in the same critical section.
func (s *Scheduler) commitLocked(a agent.Agent, t *task.Task, fx *effects) error {
	if err := s.transition(t, task.StatusAssigned); err != nil {
		return err
	}
	if err := s.registry.BeginWork(a.ID, t); err != nil {
		_ = s.transition(t, task.StatusReady)
		return err
	}
	if err := s.transition(t, task.StatusInProgress); err != nil {
		return err
	}
	now := s.now()
	t.AssignedAgentID = a.ID
	t.StartedAt = &now
	t.BlockReason = ""
	s.queue.Dequeue(t.ID)
	s.graph.Claim(t)

	s.log.Info("task assigned", "task", t.ID, "agent", a.ID, "agent_name", a.Name)
	fx.publish(events.TopicTask, events.TaskAssignedEvent{
		ID:        t.ID,
		Title:     t.Title,
		AgentID:   a.ID,
		AgentName: a.Name,
		Timestamp: now,
	})
	fx.dispatch = append(fx.dispatch, assignment{agentID: a.ID, task: t.Clone()})
	return nil
}

// transition applies a status change through the transition table and
// logs rejected edges.
func (s *Scheduler) transition(t *task.Task, to task.Status) error {
	if err := task.Transition(t, to); err != nil {
		s.log.Error("invalid task transition", "task", t.ID, "from", t.Status, "to", to, "error", err)
		return err
	}
	s.moves++
	return nil
}

// dirtyLocked reports whether a task moved or the registry changed since
// the last snapshot.
func (s *Scheduler) dirtyLocked() bool {
	return s.moves != s.snapMoves || s.registry.Revision() != s.snapRev
}

func (s *Scheduler) snapshotLocked(fx *effects) {
	if s.persister == nil {
		return
	}
	s.version++
	s.snapMoves = s.moves
	snap := &snapshot{version: s.version, tasksOnly: fx.tasksOnly}
	if !fx.tasksOnly {
		s.snapRev = s.registry.Revision()
		snap.agents = s.registry.List()
	}
	ordered := s.graph.Tasks()
	if order, err := s.graph.Order(); err == nil {
		ordered = ordered[:0]
		for _, id := range order {
			t, _ := s.graph.Get(id)
			ordered = append(ordered, t)
		}
	}
	snap.tasks = s.cloneTasksLocked(ordered)
	fx.snapshot = snap
}

func (s *Scheduler) flush(ctx context.Context, fx *effects) {
	for _, p := range fx.events {
		s.pub.Publish(p.topic, p.event)
	}

	s.dispatchMu.RLock()
	d := s.dispatcher
	s.dispatchMu.RUnlock()
	for _, as := range fx.dispatch {
		if d == nil {
			continue
		}
		if err := d.Dispatch(ctx, as.agentID, as.task); err != nil {
			s.log.Warn("prompt dispatch failed", "task", as.task.ID, "agent", as.agentID, "error", err)
			s.pub.Publish(events.TopicTask, events.TaskDispatchFailedEvent{
				ID:        as.task.ID,
				Title:     as.task.Title,
				AgentID:   as.agentID,
				Reason:    err.Error(),
				Timestamp: s.now(),
			})
		}
	}

	if fx.snapshot != nil {
		s.persist(ctx, fx.snapshot)
	}
}

// persist saves a snapshot unless a newer one was already saved.
func (s *Scheduler) persist(ctx context.Context, snap *snapshot) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if snap.version <= s.saved {
		return
	}
	s.saved = snap.version

	g, gctx := errgroup.WithContext(ctx)
	if !snap.tasksOnly {
		g.Go(func() error {
			if err := s.persister.SaveAgentSnapshot(gctx, snap.agents); err != nil {
				return fmt.Errorf("save agents: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := s.persister.SaveTaskSnapshot(gctx, snap.tasks); err != nil {
			return fmt.Errorf("save tasks: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.log.Warn("snapshot not persisted", "version", snap.version, "error", err)
	}
}

func removeAgent(list []agent.Agent, id string) []agent.Agent {
	out := list[:0]
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}
