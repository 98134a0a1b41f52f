package scheduler

import (
	"reflect"
	"testing"
	"time"

	"github.com/aristath/agentpool/internal/task"
)

func queueIDs(q *PriorityQueue) []string {
	var out []string
	for _, t := range q.PeekReady() {
		out = append(out, t.ID)
	}
	return out
}

func TestPriorityQueueOrdering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []*task.Task{
		{ID: "low", Priority: task.PriorityLow, CreatedAt: base},
		{ID: "high-old", Priority: task.PriorityHigh, CreatedAt: base},
		{ID: "high-new", Priority: task.PriorityHigh, CreatedAt: base.Add(time.Minute)},
		{ID: "high-ranked", Priority: task.PriorityHigh, Rank: 5, CreatedAt: base.Add(time.Hour)},
		{ID: "critical", Priority: task.PriorityCritical, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "high-old-2", Priority: task.PriorityHigh, CreatedAt: base},
	}

	q := NewPriorityQueue()
	for _, tk := range tasks {
		q.Push(tk)
	}

	want := []string{"critical", "high-ranked", "high-old", "high-old-2", "high-new", "low"}
	if got := queueIDs(q); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestPriorityQueueDequeueAndReinsert(t *testing.T) {
	now := time.Now()
	a := &task.Task{ID: "a", Priority: task.PriorityMedium, CreatedAt: now}
	b := &task.Task{ID: "b", Priority: task.PriorityMedium, CreatedAt: now}

	q := NewPriorityQueue()
	q.Push(a)
	q.Push(b)
	q.Push(a) // duplicate push is ignored

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	if !q.Dequeue("a") {
		t.Fatal("Dequeue(a) = false")
	}
	if q.Dequeue("a") {
		t.Error("second Dequeue(a) should report false")
	}
	if q.Contains("a") {
		t.Error("a still queued")
	}

	// a keeps its original sequence so it returns ahead of b.
	q.Push(a)
	if got := queueIDs(q); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("after reinsert order = %v, want [a b]", got)
	}

	q.Forget("a")
	if q.Contains("a") || q.Len() != 1 {
		t.Errorf("Forget left queue = %v", queueIDs(q))
	}
}

func TestPriorityQueuePeekIsCopy(t *testing.T) {
	q := NewPriorityQueue()
	q.Push(&task.Task{ID: "x"})
	peek := q.PeekReady()
	peek[0] = &task.Task{ID: "y"}
	if got := queueIDs(q); got[0] != "x" {
		t.Errorf("PeekReady exposed internal slice, got %v", got)
	}
}
