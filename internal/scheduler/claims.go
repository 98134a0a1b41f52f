package scheduler

import (
	"sort"
	"sync"
)

// ResourceClaims tracks which in-flight task holds each file/resource hint.
// It is keyed like a per-file lock table but never blocks: a task whose
// hints overlap an existing claim is deferred by the scheduler instead of
// waiting on a mutex.
type ResourceClaims struct {
	mu     sync.Mutex
	owners map[string]string // resource -> task id
}

// NewResourceClaims creates an empty claim table.
func NewResourceClaims() *ResourceClaims {
	return &ResourceClaims{
		owners: make(map[string]string),
	}
}

// Claim records taskID as the holder of every resource. Resources already
// held by taskID are left alone; resources held by another task are not
// stolen and are returned sorted.
func (c *ResourceClaims) Claim(taskID string, resources []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var contested []string
	for _, r := range resources {
		owner, held := c.owners[r]
		switch {
		case !held:
			c.owners[r] = taskID
		case owner != taskID:
			contested = append(contested, r)
		}
	}
	sort.Strings(contested)
	return contested
}

// Release drops every claim taskID holds on resources.
func (c *ResourceClaims) Release(taskID string, resources []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range resources {
		if c.owners[r] == taskID {
			delete(c.owners, r)
		}
	}
}

// Conflict returns the first task (by resource name) other than taskID
// holding any of resources.
func (c *ResourceClaims) Conflict(taskID string, resources []string) (string, bool) {
	if len(resources) == 0 {
		return "", false
	}

	sorted := make([]string, len(resources))
	copy(sorted, resources)
	sort.Strings(sorted)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range sorted {
		if owner, held := c.owners[r]; held && owner != taskID {
			return owner, true
		}
	}
	return "", false
}

// Len returns the number of claimed resources.
func (c *ResourceClaims) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.owners)
}
