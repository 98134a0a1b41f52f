package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveSession stores the worker-channel session of an agent so a restored
// agent can resume its assistant conversation.
func (s *SQLiteStore) SaveSession(ctx context.Context, agentID, sessionID, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (agent_id, session_id, kind)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			session_id = excluded.session_id,
			kind = excluded.kind,
			updated_at = CURRENT_TIMESTAMP
	`, agentID, sessionID, kind)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession retrieves the session of an agent.
// Returns a wrapped sql.ErrNoRows if the agent has none.
func (s *SQLiteStore) GetSession(ctx context.Context, agentID string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var sessionID, kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, kind
		FROM agent_sessions
		WHERE agent_id = ?
	`, agentID).Scan(&sessionID, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("no session found for agent %q: %w", agentID, err)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query session: %w", err)
	}
	return sessionID, kind, nil
}

// AppendTranscript records a message sent to an agent. Entries are append-only.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, entry TranscriptEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_transcript (agent_id, task_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, entry.AgentID, entry.TaskID, entry.Role, entry.Content, formatTime(entry.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to save transcript entry: %w", err)
	}
	return nil
}

// Transcript returns an agent's messages in the order they were recorded.
// Returns empty slice (not nil) if there are none.
func (s *SQLiteStore) Transcript(ctx context.Context, agentID string) ([]TranscriptEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, task_id, role, content, timestamp
		FROM agent_transcript
		WHERE agent_id = ?
		ORDER BY id ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	entries := []TranscriptEntry{}
	for rows.Next() {
		var (
			e  TranscriptEntry
			ts string
		)
		if err := rows.Scan(&e.AgentID, &e.TaskID, &e.Role, &e.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transcript: %w", err)
	}
	return entries, nil
}

// ForgetAgent deletes the session and transcript of agentID.
func (s *SQLiteStore) ForgetAgent(ctx context.Context, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_sessions WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_transcript WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
