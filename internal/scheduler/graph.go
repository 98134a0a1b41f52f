package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"

	"github.com/aristath/agentpool/internal/errs"
	"github.com/aristath/agentpool/internal/task"
)

type idSet map[string]struct{}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DependencyGraph holds tasks with their dependency and conflict edges.
// Dependency edges are kept acyclic at insertion time. The graph is owned
// by the Scheduler and is not safe for concurrent use on its own.
type DependencyGraph struct {
	tasks      map[string]*task.Task
	deps       map[string]idSet // task -> tasks it depends on
	dependents map[string]idSet // task -> tasks that depend on it
	conflicts  map[string]idSet // symmetric
	claims     *ResourceClaims
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		tasks:      make(map[string]*task.Task),
		deps:       make(map[string]idSet),
		dependents: make(map[string]idSet),
		conflicts:  make(map[string]idSet),
		claims:     NewResourceClaims(),
	}
}

// AddTask inserts a node. Edges listed on the task are not inserted; use
// AddDependency and AddConflict so cycle checks run.
func (g *DependencyGraph) AddTask(t *task.Task) error {
	if _, exists := g.tasks[t.ID]; exists {
		return errs.InvalidState("task %q already exists", t.ID)
	}
	g.tasks[t.ID] = t
	g.deps[t.ID] = make(idSet)
	g.dependents[t.ID] = make(idSet)
	g.conflicts[t.ID] = make(idSet)
	return nil
}

// AddDependency records that taskID depends on dependsOnID. It fails with a
// *errs.CycleError, leaving the graph untouched, when dependsOnID can
// already reach taskID.
func (g *DependencyGraph) AddDependency(taskID, dependsOnID string) error {
	t, ok := g.tasks[taskID]
	if !ok {
		return errs.NotFound("task", taskID)
	}
	if _, ok := g.tasks[dependsOnID]; !ok {
		return errs.NotFound("task", dependsOnID)
	}
	if _, exists := g.deps[taskID][dependsOnID]; exists {
		return nil
	}
	if path := g.path(dependsOnID, taskID); path != nil {
		return &errs.CycleError{TaskID: taskID, DependsOn: dependsOnID, Path: path}
	}

	g.deps[taskID][dependsOnID] = struct{}{}
	g.dependents[dependsOnID][taskID] = struct{}{}
	t.DependsOn = appendUnique(t.DependsOn, dependsOnID)
	return nil
}

// path returns the dependency chain from -> ... -> to, or nil if to is not
// reachable from from.
func (g *DependencyGraph) path(from, to string) []string {
	if from == to {
		return []string{from}
	}
	parent := map[string]string{from: ""}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.deps[cur].sorted() {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				var chain []string
				for n := to; n != ""; n = parent[n] {
					chain = append([]string{n}, chain...)
				}
				return chain
			}
			stack = append(stack, next)
		}
	}
	return nil
}

// AddConflict records a symmetric conflict edge.
func (g *DependencyGraph) AddConflict(taskID, otherID string) error {
	a, ok := g.tasks[taskID]
	if !ok {
		return errs.NotFound("task", taskID)
	}
	b, ok := g.tasks[otherID]
	if !ok {
		return errs.NotFound("task", otherID)
	}
	if taskID == otherID {
		return errs.InvalidState("task %q cannot conflict with itself", taskID)
	}
	g.conflicts[taskID][otherID] = struct{}{}
	g.conflicts[otherID][taskID] = struct{}{}
	a.ConflictsWith = appendUnique(a.ConflictsWith, otherID)
	b.ConflictsWith = appendUnique(b.ConflictsWith, taskID)
	return nil
}

// IsReady reports whether every dependency of taskID is completed.
func (g *DependencyGraph) IsReady(taskID string) bool {
	deps, ok := g.deps[taskID]
	if !ok {
		return false
	}
	for depID := range deps {
		if g.tasks[depID].Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// FailedDependency returns a direct dependency of taskID that has failed.
func (g *DependencyGraph) FailedDependency(taskID string) (string, bool) {
	for _, depID := range g.deps[taskID].sorted() {
		if g.tasks[depID].Status == task.StatusFailed {
			return depID, true
		}
	}
	return "", false
}

// Dependents returns the ids of tasks that directly depend on taskID.
func (g *DependencyGraph) Dependents(taskID string) []string {
	return g.dependents[taskID].sorted()
}

// ConflictsInFlight reports whether taskID conflicts with a task that is
// currently assigned or in progress, either through a declared edge or
// through overlapping resource hints.
func (g *DependencyGraph) ConflictsInFlight(taskID string) bool {
	_, ok := g.InFlightConflict(taskID)
	return ok
}

// InFlightConflict is ConflictsInFlight that also names the blocking task.
func (g *DependencyGraph) InFlightConflict(taskID string) (string, bool) {
	t, ok := g.tasks[taskID]
	if !ok {
		return "", false
	}
	for _, otherID := range g.conflicts[taskID].sorted() {
		if g.tasks[otherID].Status.InFlight() {
			return otherID, true
		}
	}
	return g.claims.Conflict(taskID, t.Files)
}

// Claim marks t's resource hints as held; called when t goes in flight.
func (g *DependencyGraph) Claim(t *task.Task) {
	g.claims.Claim(t.ID, t.Files)
}

// Release drops t's resource claims; called when t leaves flight.
func (g *DependencyGraph) Release(t *task.Task) {
	g.claims.Release(t.ID, t.Files)
}

// RemoveTask detaches all edges of taskID and deletes it. Only used for
// task deletion, never on completion.
func (g *DependencyGraph) RemoveTask(taskID string) {
	t, ok := g.tasks[taskID]
	if !ok {
		return
	}
	for depID := range g.deps[taskID] {
		delete(g.dependents[depID], taskID)
	}
	for childID := range g.dependents[taskID] {
		delete(g.deps[childID], taskID)
		child := g.tasks[childID]
		child.DependsOn = removeString(child.DependsOn, taskID)
	}
	for otherID := range g.conflicts[taskID] {
		delete(g.conflicts[otherID], taskID)
		other := g.tasks[otherID]
		other.ConflictsWith = removeString(other.ConflictsWith, taskID)
	}
	g.claims.Release(taskID, t.Files)

	delete(g.tasks, taskID)
	delete(g.deps, taskID)
	delete(g.dependents, taskID)
	delete(g.conflicts, taskID)
}

// Get returns the live task pointer.
func (g *DependencyGraph) Get(taskID string) (*task.Task, bool) {
	t, ok := g.tasks[taskID]
	return t, ok
}

// Tasks returns live task pointers ordered by creation time, then id.
func (g *DependencyGraph) Tasks() []*task.Task {
	out := make([]*task.Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of tasks.
func (g *DependencyGraph) Len() int {
	return len(g.tasks)
}

// Order returns task ids in dependency order (every task after all of its
// dependencies).
func (g *DependencyGraph) Order() ([]string, error) {
	var edges []toposort.Edge
	for _, id := range sortedKeys(g.tasks) {
		deps := g.deps[id]
		if len(deps) == 0 {
			// Task with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps.sorted() {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.tasks) {
		return nil, fmt.Errorf("topological sort returned %d of %d tasks: %s", len(order), len(g.tasks), strings.Join(order, ", "))
	}
	return order, nil
}

func sortedKeys(m map[string]*task.Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, existing := range list {
		if existing != v {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
