package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/events"
	"github.com/aristath/agentpool/internal/task"
)

func TestAgentList(t *testing.T) {
	tests := []struct {
		name   string
		agents []agent.Agent
		want   []string
	}{
		{"empty", nil, []string{"Agents", "No agents"}},
		{
			name: "working and failed",
			agents: []agent.Agent{
				{ID: "0123456789abcdef", Name: "coder-1", Type: "backend", Status: agent.StatusWorking, CurrentTaskID: "task-0001-long-id", TasksCompleted: 2},
				{ID: "b2", Name: "reviewer", Status: agent.StatusError, LastError: "spawn failed"},
			},
			want: []string{"coder-1", "01234567", "[backend]", "-> task-000", "(2 done)", "reviewer", "spawn failed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AgentList(tt.agents)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("AgentList missing %q in:\n%s", w, got)
				}
			}
		})
	}
}

func TestTaskList(t *testing.T) {
	tasks := []*task.Task{
		{ID: "t1", Title: "Write schema", Priority: task.PriorityHigh, Status: task.StatusInProgress, AssignedAgentID: "agent-a"},
		{ID: "t2", Title: "Ship it", Priority: task.PriorityLow, Status: task.StatusQueued, DependsOn: []string{"t1"}},
		{ID: "t3", Title: "Migrate", Priority: task.PriorityMedium, Status: task.StatusBlocked, BlockReason: "dependency failed"},
		{ID: "t4", Title: strings.Repeat("x", 80), Priority: task.PriorityMedium, Status: task.StatusFailed, Error: "tests red"},
	}
	got := TaskList(tasks)
	for _, w := range []string{"Write schema", "high", "@agent-a", "after t1", "dependency failed", "tests red", "..."} {
		if !strings.Contains(got, w) {
			t.Errorf("TaskList missing %q in:\n%s", w, got)
		}
	}
	if strings.Contains(got, strings.Repeat("x", 80)) {
		t.Error("long title was not truncated")
	}
	if !strings.Contains(TaskList(nil), "No tasks") {
		t.Error("empty list should say so")
	}
}

func TestProgress(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Status: task.StatusCompleted},
		{ID: "b", Status: task.StatusCompleted},
		{ID: "c", Status: task.StatusAssigned},
		{ID: "d", Status: task.StatusReady},
	}
	got := Progress(tasks)
	for _, w := range []string{"Total:     4", "2/4", "["} {
		if !strings.Contains(got, w) {
			t.Errorf("Progress missing %q in:\n%s", w, got)
		}
	}
	if strings.Contains(Progress(nil), "[") {
		t.Error("no bar expected without tasks")
	}
}

func TestBoardJoinsPanes(t *testing.T) {
	board := Board([]agent.Agent{{ID: "a", Name: "solo", Status: agent.StatusIdle}}, nil)
	if !strings.Contains(board, "solo") || !strings.Contains(board, "Progress") {
		t.Errorf("Board = \n%s", board)
	}
	if lipgloss.Height(board) < 3 {
		t.Errorf("board height = %d", lipgloss.Height(board))
	}
}

func TestShortIDAndTruncate(t *testing.T) {
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(abc) = %q", got)
	}
	if got := ShortID("0123456789"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
	if got := truncate("hello world", 8); got != "hello..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 8); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestEventLine(t *testing.T) {
	tests := []struct {
		ev   events.Event
		want string
	}{
		{events.AgentCreatedEvent{ID: "a1", Name: "coder-1", Status: "idle"}, "agent coder-1 (a1) joined as idle"},
		{events.AgentRemovedEvent{ID: "a1", Name: "coder-1", InterruptedTaskID: "t1"}, "task t1 requeued"},
		{events.AgentStatusEvent{ID: "a1", Name: "coder-1", Status: "offline", Reason: "channel closed"}, "is offline: channel closed"},
		{events.TaskCreatedEvent{ID: "t1", Title: "Fix", Priority: "high"}, `task t1 "Fix" submitted (high)`},
		{events.TaskAssignedEvent{ID: "t1", Title: "Fix", AgentName: "coder-1"}, `"Fix" -> coder-1`},
		{events.TaskCompletedEvent{ID: "t1", Title: "Fix", Duration: 2500 * time.Millisecond}, "completed in 3s"},
		{events.TaskFailedEvent{ID: "t1", Title: "Fix", Reason: "boom"}, "failed: boom"},
		{events.TaskBlockedEvent{ID: "t1", Title: "Fix", Reason: "conflict"}, "blocked: conflict"},
		{events.TaskDispatchFailedEvent{ID: "t1", Title: "Fix", AgentID: "a1", Reason: "closed"}, "not delivered to a1"},
	}
	for _, tt := range tests {
		t.Run(tt.ev.EventType(), func(t *testing.T) {
			if got := EventLine(tt.ev); !strings.Contains(got, tt.want) {
				t.Errorf("EventLine = %q, want containing %q", got, tt.want)
			}
		})
	}
	if got := EventLine(events.PoolProgressEvent{}); got != "" {
		t.Errorf("progress events should be silent, got %q", got)
	}
}
