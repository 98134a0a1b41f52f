package persistence

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleTasks() []*task.Task {
	started := epoch.Add(time.Minute)
	done := epoch.Add(2 * time.Minute)
	return []*task.Task{
		{
			ID:          "schema",
			Title:       "Design schema",
			Priority:    task.PriorityHigh,
			Status:      task.StatusCompleted,
			Requires:    []string{"backend"},
			CompletedBy: "a1",
			CreatedAt:   epoch,
			StartedAt:   &started,
			CompletedAt: &done,
		},
		{
			ID:              "api",
			Title:           "Build API",
			Description:     "REST handlers, with commas, in files",
			Priority:        task.PriorityMedium,
			Rank:            2,
			Status:          task.StatusInProgress,
			Files:           []string{"api/a,b.go", "api/routes.go"},
			DependsOn:       []string{"schema"},
			ConflictsWith:   []string{"docs"},
			AssignedAgentID: "a2",
			CreatedAt:       epoch.Add(time.Second),
			StartedAt:       &started,
		},
		{
			ID:            "docs",
			Title:         "Write docs",
			Status:        task.StatusBlocked,
			BlockReason:   "dependency failed",
			BlockedBy:     "schema",
			DependsOn:     []string{"schema"},
			ConflictsWith: []string{"api"},
			CreatedAt:     epoch.Add(2 * time.Second),
		},
	}
}

func TestTaskSnapshotRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := sampleTasks()
	if err := store.SaveTaskSnapshot(ctx, want); err != nil {
		t.Fatalf("SaveTaskSnapshot: %v", err)
	}
	got, err := store.LoadTaskSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadTaskSnapshot: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d tasks, want %d", len(got), len(want))
	}
	for i := range want {
		if !reflect.DeepEqual(got[i], want[i]) {
			t.Errorf("task %d:\n got  %+v\n want %+v", i, got[i], want[i])
		}
	}
}

func TestTaskSnapshotReplacesPrevious(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTaskSnapshot(ctx, sampleTasks()); err != nil {
		t.Fatal(err)
	}

	// Second snapshot drops "docs" and finishes "api".
	next := sampleTasks()[:2]
	next[1].Status = task.StatusCompleted
	next[1].AssignedAgentID = ""
	next[1].ConflictsWith = nil
	if err := store.SaveTaskSnapshot(ctx, next); err != nil {
		t.Fatalf("second SaveTaskSnapshot: %v", err)
	}

	got, err := store.LoadTaskSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d tasks, want 2", len(got))
	}
	if got[1].Status != task.StatusCompleted || got[1].AssignedAgentID != "" {
		t.Errorf("api = %+v", got[1])
	}
	if len(got[1].ConflictsWith) != 0 {
		t.Errorf("stale conflict edge survived: %v", got[1].ConflictsWith)
	}

	if err := store.SaveTaskSnapshot(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.LoadTaskSnapshot(ctx); len(got) != 0 {
		t.Errorf("empty snapshot left %d tasks", len(got))
	}
}

func TestTaskSnapshotRejectsDanglingDependency(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveTaskSnapshot(ctx, sampleTasks()); err != nil {
		t.Fatal(err)
	}
	bad := []*task.Task{{ID: "orphan", Title: "Orphan", Status: task.StatusQueued, DependsOn: []string{"ghost"}, CreatedAt: epoch}}
	if err := store.SaveTaskSnapshot(ctx, bad); err == nil {
		t.Fatal("expected foreign key failure for unknown dependency")
	}

	// The failed transaction must not have touched the previous snapshot.
	got, err := store.LoadTaskSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("previous snapshot damaged: %d tasks", len(got))
	}
}

func TestAgentSnapshotRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := []agent.Agent{
		{ID: "a1", Name: "Ada", Type: "backend", Template: "coder", Capabilities: []string{"go", "sql"}, Status: agent.StatusIdle, TasksCompleted: 3, CreatedAt: epoch},
		{ID: "a2", Name: "Grace", Type: "frontend", Status: agent.StatusWorking, CurrentTaskID: "api", CreatedAt: epoch.Add(time.Second)},
		{ID: "a3", Name: "Linus", Status: agent.StatusError, LastError: "claude: exit status 1", CreatedAt: epoch.Add(2 * time.Second)},
	}
	if err := store.SaveAgentSnapshot(ctx, want); err != nil {
		t.Fatalf("SaveAgentSnapshot: %v", err)
	}
	got, err := store.LoadAgentSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadAgentSnapshot: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("agents:\n got  %+v\n want %+v", got, want)
	}

	// Removing an agent from the pool removes its row.
	if err := store.SaveAgentSnapshot(ctx, want[1:]); err != nil {
		t.Fatal(err)
	}
	got, _ = store.LoadAgentSnapshot(ctx)
	if len(got) != 2 || got[0].ID != "a2" {
		t.Errorf("after removal: %+v", got)
	}
}

func TestSessionsAndTranscript(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if _, _, err := store.GetSession(ctx, "a1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetSession on empty store: got %v, want sql.ErrNoRows", err)
	}
	if err := store.SaveSession(ctx, "a1", "s-1", "claude"); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSession(ctx, "a1", "s-2", "claude"); err != nil {
		t.Fatal(err)
	}
	sessionID, kind, err := store.GetSession(ctx, "a1")
	if err != nil || sessionID != "s-2" || kind != "claude" {
		t.Errorf("GetSession = %q, %q, %v", sessionID, kind, err)
	}

	entries := []TranscriptEntry{
		{AgentID: "a1", Role: "system", Content: "You are a backend engineer.", Timestamp: epoch},
		{AgentID: "a1", TaskID: "api", Role: "user", Content: "Task api: Build API", Timestamp: epoch},
		{AgentID: "a2", TaskID: "docs", Role: "user", Content: "Task docs: Write docs", Timestamp: epoch},
	}
	for _, e := range entries {
		if err := store.AppendTranscript(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Transcript(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, entries[:2]) {
		t.Errorf("Transcript(a1) = %+v", got)
	}

	if err := store.ForgetAgent(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Transcript(ctx, "a1"); got == nil || len(got) != 0 {
		t.Errorf("transcript after ForgetAgent = %#v, want empty slice", got)
	}
	if _, _, err := store.GetSession(ctx, "a1"); err == nil {
		t.Error("session survived ForgetAgent")
	}
	if got, _ := store.Transcript(ctx, "a2"); len(got) != 1 {
		t.Errorf("other agent transcript affected: %+v", got)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "pool.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.SaveTaskSnapshot(ctx, sampleTasks()); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.LoadTaskSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1].DependsOn[0] != "schema" {
		t.Errorf("reopened snapshot = %+v", got)
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := testStore(t)
	b := testStore(t)

	if err := a.SaveTaskSnapshot(ctx, sampleTasks()); err != nil {
		t.Fatal(err)
	}
	got, err := b.LoadTaskSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("second memory store sees %d tasks", len(got))
	}
}
