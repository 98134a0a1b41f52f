package scheduler

import (
	"sort"

	"github.com/aristath/agentpool/internal/task"
)

// PriorityQueue holds ready tasks ordered by priority (highest first), then
// rank (highest first), then creation time, then submission sequence.
type PriorityQueue struct {
	items []*task.Task
	seq   map[string]uint64
	next  uint64
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{seq: make(map[string]uint64)}
}

// Sequence assigns t its submission sequence number if it has none. The
// scheduler calls it on submit so that a task keeps its place among equals
// when it leaves and re-enters the queue.
func (q *PriorityQueue) Sequence(t *task.Task) uint64 {
	if n, ok := q.seq[t.ID]; ok {
		return n
	}
	q.next++
	q.seq[t.ID] = q.next
	return q.next
}

// Push inserts t in order. Pushing a task already queued is a no-op.
func (q *PriorityQueue) Push(t *task.Task) {
	if q.Contains(t.ID) {
		return
	}
	q.Sequence(t)
	i := sort.Search(len(q.items), func(i int) bool {
		return q.less(t, q.items[i])
	})
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = t
}

func (q *PriorityQueue) less(a, b *task.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Rank != b.Rank {
		return a.Rank > b.Rank
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return q.seq[a.ID] < q.seq[b.ID]
}

// PeekReady returns the full ordered set without removing anything.
func (q *PriorityQueue) PeekReady() []*task.Task {
	out := make([]*task.Task, len(q.items))
	copy(out, q.items)
	return out
}

// Dequeue removes taskID and reports whether it was present.
func (q *PriorityQueue) Dequeue(taskID string) bool {
	for i, t := range q.items {
		if t.ID == taskID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether taskID is queued.
func (q *PriorityQueue) Contains(taskID string) bool {
	for _, t := range q.items {
		if t.ID == taskID {
			return true
		}
	}
	return false
}

// Len returns the number of queued tasks.
func (q *PriorityQueue) Len() int {
	return len(q.items)
}

// Forget dequeues taskID and drops its sequence number; used on deletion.
func (q *PriorityQueue) Forget(taskID string) {
	q.Dequeue(taskID)
	delete(q.seq, taskID)
}
