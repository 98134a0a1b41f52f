package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aristath/agentpool/internal/agent"
)

// SaveAgentSnapshot replaces the stored agent set with agents.
func (s *SQLiteStore) SaveAgentSnapshot(ctx context.Context, agents []agent.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(agents))
	for i, a := range agents {
		caps, err := encodeList(a.Capabilities)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agents (id, position, name, type, template, capabilities, status,
				current_task_id, tasks_completed, last_error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				name = excluded.name,
				type = excluded.type,
				template = excluded.template,
				capabilities = excluded.capabilities,
				status = excluded.status,
				current_task_id = excluded.current_task_id,
				tasks_completed = excluded.tasks_completed,
				last_error = excluded.last_error,
				created_at = excluded.created_at
		`, a.ID, i, a.Name, a.Type, a.Template, caps, string(a.Status),
			a.CurrentTaskID, a.TasksCompleted, a.LastError, formatTime(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert agent %s: %w", a.ID, err)
		}
		ids = append(ids, a.ID)
	}

	keep, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode agent ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id NOT IN (SELECT value FROM json_each(?))`, string(keep)); err != nil {
		return fmt.Errorf("failed to delete stale agents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadAgentSnapshot returns the stored agents in registration order.
func (s *SQLiteStore) LoadAgentSnapshot(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, template, capabilities, status, current_task_id, tasks_completed, last_error, created_at
		FROM agents
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		var (
			a                    agent.Agent
			caps, status, create string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Template, &caps, &status,
			&a.CurrentTaskID, &a.TasksCompleted, &a.LastError, &create); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		a.Status = agent.Status(status)
		if a.Capabilities, err = decodeList(caps); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		if a.CreatedAt, err = parseTime(create); err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.ID, err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}
