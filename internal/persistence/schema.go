package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		template TEXT NOT NULL,
		capabilities TEXT NOT NULL,
		status TEXT NOT NULL,
		current_task_id TEXT NOT NULL,
		tasks_completed INTEGER NOT NULL,
		last_error TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		priority INTEGER NOT NULL,
		rank INTEGER NOT NULL,
		status TEXT NOT NULL,
		requires TEXT NOT NULL,
		files TEXT NOT NULL,
		assigned_agent_id TEXT NOT NULL,
		completed_by TEXT NOT NULL,
		block_reason TEXT NOT NULL,
		blocked_by TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS task_conflicts (
		task_id TEXT NOT NULL,
		other_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, other_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (other_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS agent_sessions (
		agent_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agent_transcript (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_transcript_agent ON agent_transcript(agent_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
