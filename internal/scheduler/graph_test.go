package scheduler

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aristath/agentpool/internal/errs"
	"github.com/aristath/agentpool/internal/task"
)

func graphWith(t *testing.T, ids ...string) *DependencyGraph {
	t.Helper()
	g := NewDependencyGraph()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		if err := g.AddTask(&task.Task{ID: id, Status: task.StatusQueued, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("AddTask(%s): %v", id, err)
		}
	}
	return g
}

func TestGraphAddDependencyCycles(t *testing.T) {
	tests := []struct {
		name    string
		edges   [][2]string // existing edges
		add     [2]string
		wantErr error
	}{
		{name: "simple edge", add: [2]string{"B", "A"}},
		{name: "direct cycle", edges: [][2]string{{"A", "B"}}, add: [2]string{"B", "A"}, wantErr: errs.ErrCycle},
		{name: "transitive cycle", edges: [][2]string{{"A", "B"}, {"B", "C"}}, add: [2]string{"C", "A"}, wantErr: errs.ErrCycle},
		{name: "self loop", add: [2]string{"A", "A"}, wantErr: errs.ErrCycle},
		{name: "diamond is fine", edges: [][2]string{{"D", "B"}, {"D", "C"}, {"B", "A"}}, add: [2]string{"C", "A"}},
		{name: "missing task", add: [2]string{"A", "Z"}, wantErr: errs.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graphWith(t, "A", "B", "C", "D")
			for _, e := range tt.edges {
				if err := g.AddDependency(e[0], e[1]); err != nil {
					t.Fatalf("setup edge %v: %v", e, err)
				}
			}
			before := append([]string(nil), mustGet(t, g, tt.add[0]).DependsOn...)

			err := g.AddDependency(tt.add[0], tt.add[1])
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddDependency() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if got := mustGet(t, g, tt.add[0]).DependsOn; !reflect.DeepEqual(got, before) {
					t.Errorf("DependsOn mutated on rejected edge: %v -> %v", before, got)
				}
			}
		})
	}
}

func TestGraphCycleErrorPath(t *testing.T) {
	g := graphWith(t, "A", "B", "C")
	_ = g.AddDependency("A", "B")
	_ = g.AddDependency("B", "C")

	err := g.AddDependency("C", "A")
	var ce *errs.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if want := []string{"A", "B", "C"}; !reflect.DeepEqual(ce.Path, want) {
		t.Errorf("Path = %v, want %v", ce.Path, want)
	}
}

func TestGraphIsReady(t *testing.T) {
	g := graphWith(t, "A", "B", "C")
	_ = g.AddDependency("C", "A")
	_ = g.AddDependency("C", "B")

	if !g.IsReady("A") {
		t.Error("A has no dependencies and should be ready")
	}
	if g.IsReady("C") {
		t.Error("C should not be ready before A and B complete")
	}
	mustGet(t, g, "A").Status = task.StatusCompleted
	if g.IsReady("C") {
		t.Error("C should not be ready with B pending")
	}
	mustGet(t, g, "B").Status = task.StatusCompleted
	if !g.IsReady("C") {
		t.Error("C should be ready after A and B complete")
	}
	if g.IsReady("missing") {
		t.Error("unknown task should not be ready")
	}
}

func TestGraphFailedDependencyAndDependents(t *testing.T) {
	g := graphWith(t, "A", "B", "C")
	_ = g.AddDependency("B", "A")
	_ = g.AddDependency("C", "A")

	if got := g.Dependents("A"); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("Dependents(A) = %v", got)
	}
	if _, failed := g.FailedDependency("B"); failed {
		t.Error("no dependency failed yet")
	}
	mustGet(t, g, "A").Status = task.StatusFailed
	if dep, failed := g.FailedDependency("B"); !failed || dep != "A" {
		t.Errorf("FailedDependency(B) = %q, %v", dep, failed)
	}
}

func TestGraphConflictsInFlight(t *testing.T) {
	g := graphWith(t, "A", "B", "C", "D")
	mustGet(t, g, "C").Files = []string{"api.go"}
	mustGet(t, g, "D").Files = []string{"api.go", "db.go"}

	if err := g.AddConflict("A", "B"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddConflict("A", "A"); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("self conflict: got %v", err)
	}
	if got := mustGet(t, g, "B").ConflictsWith; !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("conflict edge not symmetric: %v", got)
	}

	if g.ConflictsInFlight("B") {
		t.Error("A is not in flight yet")
	}
	mustGet(t, g, "A").Status = task.StatusInProgress
	if !g.ConflictsInFlight("B") {
		t.Error("declared conflict with in-flight A should defer B")
	}

	c := mustGet(t, g, "C")
	c.Status = task.StatusInProgress
	g.Claim(c)
	if other, ok := g.InFlightConflict("D"); !ok || other != "C" {
		t.Errorf("InFlightConflict(D) = %q, %v; want C via api.go", other, ok)
	}
	g.Release(c)
	if g.ConflictsInFlight("D") {
		t.Error("released claim should not conflict")
	}
}

func TestGraphRemoveTaskDetachesEdges(t *testing.T) {
	g := graphWith(t, "A", "B", "C")
	_ = g.AddDependency("B", "A")
	_ = g.AddConflict("A", "C")

	g.RemoveTask("A")

	if _, ok := g.Get("A"); ok {
		t.Fatal("A still present")
	}
	if len(mustGet(t, g, "B").DependsOn) != 0 {
		t.Error("B still lists A as dependency")
	}
	if len(mustGet(t, g, "C").ConflictsWith) != 0 {
		t.Error("C still lists A as conflict")
	}
	if !g.IsReady("B") {
		t.Error("B should be ready once its only dependency is deleted")
	}
	// Edge can be re-added without tripping on stale state.
	if err := g.AddDependency("C", "B"); err != nil {
		t.Errorf("AddDependency after removal: %v", err)
	}
}

func TestGraphOrder(t *testing.T) {
	g := graphWith(t, "api", "auth", "db", "docs")
	_ = g.AddDependency("api", "auth")
	_ = g.AddDependency("api", "db")
	_ = g.AddDependency("docs", "api")

	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("Order returned %v", order)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, edge := range [][2]string{{"auth", "api"}, {"db", "api"}, {"api", "docs"}} {
		if pos[edge[0]] > pos[edge[1]] {
			t.Errorf("%s must precede %s in %v", edge[0], edge[1], order)
		}
	}
}

func mustGet(t *testing.T, g *DependencyGraph, id string) *task.Task {
	t.Helper()
	tk, ok := g.Get(id)
	if !ok {
		t.Fatalf("task %s not found", id)
	}
	return tk
}
