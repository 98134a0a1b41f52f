// Package persistence stores agent and task snapshots in SQLite so a pool
// can be restored after the process exits.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/agentpool/internal/agent"
	"github.com/aristath/agentpool/internal/task"
)

// TranscriptEntry is one message exchanged with an agent's worker channel.
type TranscriptEntry struct {
	AgentID   string
	TaskID    string
	Role      string // "system" for bootstrap prompts, "user" for task prompts
	Content   string
	Timestamp time.Time
}

// Store defines the persistence interface for snapshots, channel sessions and transcripts.
type Store interface {
	// Snapshots
	SaveAgentSnapshot(ctx context.Context, agents []agent.Agent) error
	LoadAgentSnapshot(ctx context.Context) ([]agent.Agent, error)
	SaveTaskSnapshot(ctx context.Context, tasks []*task.Task) error
	LoadTaskSnapshot(ctx context.Context) ([]*task.Task, error)

	// Channel sessions
	SaveSession(ctx context.Context, agentID, sessionID, kind string) error
	GetSession(ctx context.Context, agentID string) (sessionID string, kind string, err error)

	// Transcript
	AppendTranscript(ctx context.Context, entry TranscriptEntry) error
	Transcript(ctx context.Context, agentID string) ([]TranscriptEntry, error)

	// ForgetAgent drops the session and transcript of a removed agent.
	ForgetAgent(ctx context.Context, agentID string) error

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Each call
// gets its own named database so parallel tests do not share state.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection serializes the concurrent
	// agent and task saves instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
