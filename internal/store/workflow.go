package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobbyhq/gobby/internal/core"
)

// SaveWorkflowState upserts a session's workflow activation. At most one
// row exists per session, matching the one-active-workflow-per-session
// invariant.
func (s *Store) SaveWorkflowState(ctx context.Context, ws *core.WorkflowState) error {
	variables, err := json.Marshal(ws.Variables)
	if err != nil {
		return fmt.Errorf("marshaling variables: %w", err)
	}
	artifacts, err := json.Marshal(ws.Artifacts)
	if err != nil {
		return fmt.Errorf("marshaling artifacts: %w", err)
	}

	return s.retryWrite(ctx, "save workflow state", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO workflow_states (session_id, workflow_name, current_phase, phase_entered_at,
				phase_action_count, total_action_count, variables, artifacts, reflection_pending,
				context_injected, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				workflow_name = excluded.workflow_name,
				current_phase = excluded.current_phase,
				phase_entered_at = excluded.phase_entered_at,
				phase_action_count = excluded.phase_action_count,
				total_action_count = excluded.total_action_count,
				variables = excluded.variables,
				artifacts = excluded.artifacts,
				reflection_pending = excluded.reflection_pending,
				context_injected = excluded.context_injected,
				updated_at = excluded.updated_at`,
			ws.SessionID, ws.WorkflowName, ws.CurrentPhase, formatTime(ws.PhaseEnteredAt),
			ws.PhaseActionCount, ws.TotalActionCount, string(variables), string(artifacts),
			boolToInt(ws.ReflectionPending), boolToInt(ws.ContextInjected),
			formatTime(ws.CreatedAt), formatTime(ws.UpdatedAt))
		return err
	})
}

// GetWorkflowState loads a session's active workflow state, if any.
func (s *Store) GetWorkflowState(ctx context.Context, sessionID core.SessionID) (*core.WorkflowState, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT session_id, workflow_name, current_phase, phase_entered_at, phase_action_count,
			total_action_count, variables, artifacts, reflection_pending, context_injected,
			created_at, updated_at
		FROM workflow_states WHERE session_id = ?`, sessionID)

	var ws core.WorkflowState
	var phaseEnteredAt, variables, artifacts, createdAt, updatedAt string
	var reflectionPending, contextInjected int
	err := row.Scan(&ws.SessionID, &ws.WorkflowName, &ws.CurrentPhase, &phaseEnteredAt,
		&ws.PhaseActionCount, &ws.TotalActionCount, &variables, &artifacts, &reflectionPending,
		&contextInjected, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("workflow_state", string(sessionID))
	}
	if err != nil {
		return nil, err
	}

	ws.ReflectionPending = reflectionPending != 0
	ws.ContextInjected = contextInjected != 0
	if err := json.Unmarshal([]byte(variables), &ws.Variables); err != nil {
		return nil, fmt.Errorf("unmarshaling variables: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &ws.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshaling artifacts: %w", err)
	}
	if ws.PhaseEnteredAt, err = parseTime(phaseEnteredAt); err != nil {
		return nil, err
	}
	if ws.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ws.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}

// ClearWorkflowState removes a session's workflow activation, used when a
// session picks a different workflow or ends.
func (s *Store) ClearWorkflowState(ctx context.Context, sessionID core.SessionID) error {
	return s.retryWrite(ctx, "clear workflow state", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM workflow_states WHERE session_id = ?`, sessionID)
		return err
	})
}

// AppendAuditEntry writes one append-only audit row, assigning it the next
// id. Exactly one call per tool-call decision (spec.md §8 property).
func (s *Store) AppendAuditEntry(ctx context.Context, e *core.WorkflowAuditEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	context, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("marshaling audit context: %w", err)
	}

	return s.retryWrite(ctx, "append audit entry", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO workflow_audit_entries (session_id, timestamp, phase, event_type, tool_name,
				rule_id, condition, result, reason, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.SessionID, formatTime(e.Timestamp), e.Phase, e.EventType, e.ToolName, e.RuleID,
			e.Condition, e.Result, e.Reason, string(context))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	})
}

// ListAuditEntries returns a session's audit trail, strictly ordered by
// timestamp with insertion order (the autoincrement id) breaking ties.
func (s *Store) ListAuditEntries(ctx context.Context, sessionID core.SessionID) ([]*core.WorkflowAuditEntry, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, session_id, timestamp, phase, event_type, tool_name, rule_id, condition, result,
			reason, context
		FROM workflow_audit_entries WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.WorkflowAuditEntry
	for rows.Next() {
		var e core.WorkflowAuditEntry
		var timestamp, contextJSON string
		if err := rows.Scan(&e.ID, &e.SessionID, &timestamp, &e.Phase, &e.EventType, &e.ToolName,
			&e.RuleID, &e.Condition, &e.Result, &e.Reason, &contextJSON); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(contextJSON), &e.Context); err != nil {
			return nil, fmt.Errorf("unmarshaling audit context: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
