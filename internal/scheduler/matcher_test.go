package scheduler

import (
	"testing"
	"time"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/task"
)

func TestDefaultMatcherScore(t *testing.T) {
	tests := []struct {
		name     string
		agent    agent.Agent
		requires []string
		want     float64
	}{
		{"no requirements", agent.Agent{Type: "backend"}, nil, 1},
		{"type match", agent.Agent{Type: "backend"}, []string{"backend"}, 100},
		{"type match case-insensitive", agent.Agent{Type: "Backend"}, []string{"backend"}, 100},
		{"full tag overlap", agent.Agent{Type: "dev", Capabilities: []string{"go", "sql"}}, []string{"go", "sql"}, 50},
		{"partial tag overlap", agent.Agent{Capabilities: []string{"go"}}, []string{"go", "sql"}, 25},
		{"type and tag", agent.Agent{Type: "backend", Capabilities: []string{"sql"}}, []string{"backend", "sql"}, 125},
		{"no match", agent.Agent{Type: "frontend", Capabilities: []string{"css"}}, []string{"backend"}, 0},
		{"load penalty", agent.Agent{Type: "backend", TasksCompleted: 10}, []string{"backend"}, 99.9},
		{"load penalty capped", agent.Agent{Type: "backend", TasksCompleted: 500}, []string{"backend"}, 99.5},
		{"no match stays zero under load", agent.Agent{Type: "frontend", TasksCompleted: 20}, []string{"backend"}, 0},
	}

	var m DefaultMatcher
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Score(tt.agent, &task.Task{Requires: tt.requires})
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindBest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	frontend := agent.Agent{ID: "fe", Type: "frontend", Status: agent.StatusIdle, CreatedAt: base}
	backend := agent.Agent{ID: "be", Type: "backend", Status: agent.StatusIdle, CreatedAt: base.Add(time.Second)}
	backend2 := agent.Agent{ID: "be2", Type: "backend", Status: agent.StatusIdle, CreatedAt: base.Add(2 * time.Second)}
	busy := agent.Agent{ID: "busy", Type: "backend", Status: agent.StatusWorking, CreatedAt: base.Add(-time.Hour)}
	loaded := backend
	loaded.TasksCompleted = 5

	tests := []struct {
		name       string
		candidates []agent.Agent
		requires   []string
		wantID     string
		wantOK     bool
	}{
		{"empty candidates", nil, []string{"backend"}, "", false},
		{"best type wins", []agent.Agent{frontend, backend}, []string{"backend"}, "be", true},
		{"tie goes to earliest registration", []agent.Agent{backend2, backend}, []string{"backend"}, "be", true},
		{"unrestricted task picks earliest", []agent.Agent{backend, frontend}, nil, "fe", true},
		{"load balancing", []agent.Agent{loaded, backend2}, []string{"backend"}, "be2", true},
		{"non-idle ignored", []agent.Agent{busy}, []string{"backend"}, "", false},
		{"nothing positive", []agent.Agent{frontend}, []string{"backend"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindBest(DefaultMatcher{}, tt.candidates, &task.Task{Requires: tt.requires})
			if ok != tt.wantOK || got.ID != tt.wantID {
				t.Errorf("FindBest() = %q, %v; want %q, %v", got.ID, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
