package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/agentpool/internal/task"
)

// SaveTaskSnapshot replaces the stored task set with tasks, including their
// dependency and conflict edges. Tasks missing from the snapshot are deleted.
func (s *SQLiteStore) SaveTaskSnapshot(ctx context.Context, tasks []*task.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Edges are rewritten from scratch after every task row exists.
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies`); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_conflicts`); err != nil {
		return fmt.Errorf("failed to clear conflicts: %w", err)
	}

	ids := make([]string, 0, len(tasks))
	for i, t := range tasks {
		requires, err := encodeList(t.Requires)
		if err != nil {
			return err
		}
		files, err := encodeList(t.Files)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, position, title, description, priority, rank, status, requires, files,
				assigned_agent_id, completed_by, block_reason, blocked_by, error, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				title = excluded.title,
				description = excluded.description,
				priority = excluded.priority,
				rank = excluded.rank,
				status = excluded.status,
				requires = excluded.requires,
				files = excluded.files,
				assigned_agent_id = excluded.assigned_agent_id,
				completed_by = excluded.completed_by,
				block_reason = excluded.block_reason,
				blocked_by = excluded.blocked_by,
				error = excluded.error,
				created_at = excluded.created_at,
				started_at = excluded.started_at,
				completed_at = excluded.completed_at
		`, t.ID, i, t.Title, t.Description, int(t.Priority), t.Rank, string(t.Status), requires, files,
			t.AssignedAgentID, t.CompletedBy, t.BlockReason, t.BlockedBy, t.Error,
			formatTime(t.CreatedAt), nullTime(t.StartedAt), nullTime(t.CompletedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
	}

	keep, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode task ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id NOT IN (SELECT value FROM json_each(?))`, string(keep)); err != nil {
		return fmt.Errorf("failed to delete stale tasks: %w", err)
	}

	for _, t := range tasks {
		for i, depID := range t.DependsOn {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_dependencies (task_id, depends_on_id, position) VALUES (?, ?, ?)
			`, t.ID, depID, i); err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, depID, err)
			}
		}
		for i, otherID := range t.ConflictsWith {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO task_conflicts (task_id, other_id, position) VALUES (?, ?, ?)
				ON CONFLICT(task_id, other_id) DO NOTHING
			`, t.ID, otherID, i); err != nil {
				return fmt.Errorf("failed to insert conflict %s <-> %s: %w", t.ID, otherID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadTaskSnapshot returns the stored tasks in the order they were saved.
func (s *SQLiteStore) LoadTaskSnapshot(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, priority, rank, status, requires, files,
			assigned_agent_id, completed_by, block_reason, blocked_by, error, created_at, started_at, completed_at
		FROM tasks
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var (
		tasks []*task.Task
		byID  = make(map[string]*task.Task)
	)
	for rows.Next() {
		var (
			t                   task.Task
			priority            int
			status              string
			requires, files     string
			createdAt           string
			startedAt, finished sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &priority, &t.Rank, &status, &requires, &files,
			&t.AssignedAgentID, &t.CompletedBy, &t.BlockReason, &t.BlockedBy, &t.Error,
			&createdAt, &startedAt, &finished); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Priority = task.Priority(priority)
		t.Status = task.Status(status)
		if t.Requires, err = decodeList(requires); err == nil {
			t.Files, err = decodeList(files)
		}
		if err == nil {
			t.CreatedAt, err = parseTime(createdAt)
		}
		if err == nil {
			t.StartedAt, err = parseNullTime(startedAt)
		}
		if err == nil {
			t.CompletedAt, err = parseNullTime(finished)
		}
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		tasks = append(tasks, &t)
		byID[t.ID] = &t
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	if err := s.loadEdges(ctx, `SELECT task_id, depends_on_id FROM task_dependencies ORDER BY task_id, position`, func(t *task.Task, id string) {
		t.DependsOn = append(t.DependsOn, id)
	}, byID); err != nil {
		return nil, err
	}
	if err := s.loadEdges(ctx, `SELECT task_id, other_id FROM task_conflicts ORDER BY task_id, position`, func(t *task.Task, id string) {
		t.ConflictsWith = append(t.ConflictsWith, id)
	}, byID); err != nil {
		return nil, err
	}
	return tasks, nil
}

// loadEdges reads (task, other) pairs in one query; the store runs on a
// single connection so rows must be drained before the next query.
func (s *SQLiteStore) loadEdges(ctx context.Context, query string, add func(*task.Task, string), byID map[string]*task.Task) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, otherID string
		if err := rows.Scan(&taskID, &otherID); err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}
		if t, ok := byID[taskID]; ok {
			add(t, otherID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating edges: %w", err)
	}
	return nil
}

func encodeList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	return values, nil
}
