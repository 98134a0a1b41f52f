package scheduler

import (
	"math"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/task"
)

// Scoring weights.
const (
	typeMatchWeight   = 100.0
	tagOverlapWeight  = 50.0
	unrestrictedScore = 1.0
	loadPenaltyStep   = 0.01
	maxLoadPenalty    = 0.5
)

// Matcher scores an agent's fitness for a task. Implementations must be
// pure and deterministic.
type Matcher interface {
	Score(a agent.Agent, t *task.Task) float64
}

// DefaultMatcher is the stock Matcher.
//
// An agent whose type appears in the task's required tags scores highest.
// Capability tags overlapping the required tags add a proportional share.
// A task with no requirements gives every agent a small base score. Agents
// that have completed more tasks are penalized slightly so load spreads
// across the pool.
type DefaultMatcher struct{}

// Score implements Matcher.
func (DefaultMatcher) Score(a agent.Agent, t *task.Task) float64 {
	penalty := math.Min(loadPenaltyStep*float64(a.TasksCompleted), maxLoadPenalty)

	if len(t.Requires) == 0 {
		return unrestrictedScore - penalty
	}

	var score float64
	overlap := 0
	for _, tag := range t.Requires {
		if a.HasType(tag) {
			score += typeMatchWeight
		}
		if a.HasCapability(tag) {
			overlap++
		}
	}
	if score > typeMatchWeight {
		// The type can match at most one required tag.
		score = typeMatchWeight
	}
	score += tagOverlapWeight * float64(overlap) / float64(len(t.Requires))

	if score == 0 {
		return 0
	}
	return score - penalty
}

// FindBest returns the highest-scoring idle candidate. Ties go to the
// candidate registered first, so callers should pass candidates in
// registration order (Registry.ListIdle does). Candidates that are not
// idle or score zero or less never match.
func FindBest(m Matcher, candidates []agent.Agent, t *task.Task) (agent.Agent, bool) {
	var (
		best      agent.Agent
		bestScore float64
		found     bool
	)
	for _, a := range candidates {
		if a.Status != agent.StatusIdle {
			continue
		}
		score := m.Score(a, t)
		if score <= 0 {
			continue
		}
		if !found || score > bestScore || (score == bestScore && a.CreatedAt.Before(best.CreatedAt)) {
			best, bestScore, found = a, score, true
		}
	}
	return best, found
}
