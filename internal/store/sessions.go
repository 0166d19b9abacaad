package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobbyhq/gobby/internal/core"
)

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, sess *core.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	var termCtx sql.NullString
	if sess.TerminalContext != nil {
		b, err := json.Marshal(sess.TerminalContext)
		if err != nil {
			return fmt.Errorf("marshaling terminal context: %w", err)
		}
		termCtx = sql.NullString{String: string(b), Valid: true}
	}

	return s.retryWrite(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, project_id, source, seq_num, parent_session_id, spawned_by_agent_id,
				agent_depth, status, summary_markdown, terminal_context, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.ProjectID, sess.Source, sess.SeqNum, toNullSessionID(sess.ParentSessionID),
			toNullString(sess.SpawnedByAgentID), sess.AgentDepth, sess.Status, sess.SummaryMarkdown,
			termCtx, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
		if isUniqueViolation(err) {
			return core.ErrConstraint(core.CodeDuplicateSeq, fmt.Sprintf("session seq_num %d already used in project %s", sess.SeqNum, sess.ProjectID)).WithCause(err)
		}
		return err
	})
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id core.SessionID) (*core.Session, error) {
	row := s.readDB.QueryRowContext(ctx, sessionSelect+` WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessionsByProject returns every session for a project, newest first.
func (s *Store) ListSessionsByProject(ctx context.Context, projectID core.ProjectID) ([]*core.Session, error) {
	rows, err := s.readDB.QueryContext(ctx, sessionSelect+` WHERE project_id = ? ORDER BY seq_num DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// ListChildSessions returns every session spawned from parentID, used by
// AgentOrchestrator's inter-session messaging fan-out.
func (s *Store) ListChildSessions(ctx context.Context, parentID core.SessionID) ([]*core.Session, error) {
	rows, err := s.readDB.QueryContext(ctx, sessionSelect+` WHERE parent_session_id = ? ORDER BY created_at`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSessions(rows)
}

// UpdateSession persists the full session record.
func (s *Store) UpdateSession(ctx context.Context, sess *core.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	var termCtx sql.NullString
	if sess.TerminalContext != nil {
		b, err := json.Marshal(sess.TerminalContext)
		if err != nil {
			return fmt.Errorf("marshaling terminal context: %w", err)
		}
		termCtx = sql.NullString{String: string(b), Valid: true}
	}

	return s.retryWrite(ctx, "update session", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE sessions SET status = ?, summary_markdown = ?, terminal_context = ?, agent_depth = ?, updated_at = ?
			WHERE id = ?`,
			sess.Status, sess.SummaryMarkdown, termCtx, sess.AgentDepth, formatTime(sess.UpdatedAt), sess.ID)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "session", string(sess.ID))
	})
}

const sessionSelect = `
	SELECT id, project_id, source, seq_num, parent_session_id, spawned_by_agent_id, agent_depth,
		status, summary_markdown, terminal_context, created_at, updated_at
	FROM sessions`

func scanSession(row *sql.Row) (*core.Session, error) {
	var sess core.Session
	var parentID, spawnedBy, termCtx sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Source, &sess.SeqNum, &parentID, &spawnedBy,
		&sess.AgentDepth, &sess.Status, &sess.SummaryMarkdown, &termCtx, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("session", "")
	}
	if err != nil {
		return nil, err
	}
	if err := fillSessionOptional(&sess, parentID, spawnedBy, termCtx, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*core.Session, error) {
	var out []*core.Session
	for rows.Next() {
		var sess core.Session
		var parentID, spawnedBy, termCtx sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.Source, &sess.SeqNum, &parentID, &spawnedBy,
			&sess.AgentDepth, &sess.Status, &sess.SummaryMarkdown, &termCtx, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := fillSessionOptional(&sess, parentID, spawnedBy, termCtx, createdAt, updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func fillSessionOptional(sess *core.Session, parentID, spawnedBy, termCtx sql.NullString, createdAt, updatedAt string) error {
	if parentID.Valid {
		pid := core.SessionID(parentID.String)
		sess.ParentSessionID = &pid
	}
	sess.SpawnedByAgentID = fromNullString(spawnedBy)
	if termCtx.Valid {
		var tc core.TerminalContext
		if err := json.Unmarshal([]byte(termCtx.String), &tc); err != nil {
			return fmt.Errorf("unmarshaling terminal context: %w", err)
		}
		sess.TerminalContext = &tc
	}
	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return err
	}
	return nil
}

func toNullSessionID(id *core.SessionID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}
