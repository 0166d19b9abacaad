package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobbyhq/gobby/internal/core"
)

// CreateAgentRun inserts a new durable agent-run record.
func (s *Store) CreateAgentRun(ctx context.Context, r *core.AgentRun) error {
	if err := r.Validate(); err != nil {
		return err
	}
	result, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	return s.retryWrite(ctx, "create agent run", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agent_runs (id, parent_session_id, child_session_id, workflow_name, provider,
				model, status, prompt, isolation, mode, worktree_id, clone_id, result, created_at,
				started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.ParentSessionID, toNullSessionID(r.ChildSessionID), r.WorkflowName, r.Provider,
			r.Model, r.Status, r.Prompt, r.Isolation, r.Mode, toNullString(r.WorktreeID),
			toNullString(r.CloneID), string(result), formatTime(r.CreatedAt),
			toNullTime(r.StartedAt), toNullTime(r.CompletedAt))
		return err
	})
}

// GetAgentRun loads an agent run by id.
func (s *Store) GetAgentRun(ctx context.Context, id string) (*core.AgentRun, error) {
	row := s.readDB.QueryRowContext(ctx, agentRunSelect+` WHERE id = ?`, id)
	return scanAgentRun(row)
}

// ListAgentRunsBySession returns every run spawned from a session.
func (s *Store) ListAgentRunsBySession(ctx context.Context, sessionID core.SessionID) ([]*core.AgentRun, error) {
	rows, err := s.readDB.QueryContext(ctx, agentRunSelect+` WHERE parent_session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.AgentRun
	for rows.Next() {
		r, err := scanAgentRunRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRunningAgentRuns returns every run still in-flight, used by the
// daemon's startup reconciliation sweep to detect orphaned PIDs.
func (s *Store) ListRunningAgentRuns(ctx context.Context) ([]*core.AgentRun, error) {
	rows, err := s.readDB.QueryContext(ctx, agentRunSelect+` WHERE status = ?`, core.AgentRunStatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.AgentRun
	for rows.Next() {
		r, err := scanAgentRunRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateAgentRun persists the full run record, used after MarkCompleted /
// MarkFailed / MarkKilled mutate it in place.
func (s *Store) UpdateAgentRun(ctx context.Context, r *core.AgentRun) error {
	result, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	return s.retryWrite(ctx, "update agent run", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE agent_runs SET child_session_id = ?, status = ?, worktree_id = ?, clone_id = ?,
				result = ?, started_at = ?, completed_at = ?
			WHERE id = ?`,
			toNullSessionID(r.ChildSessionID), r.Status, toNullString(r.WorktreeID),
			toNullString(r.CloneID), string(result), toNullTime(r.StartedAt),
			toNullTime(r.CompletedAt), r.ID)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "agent_run", r.ID)
	})
}

const agentRunSelect = `
	SELECT id, parent_session_id, child_session_id, workflow_name, provider, model, status, prompt,
		isolation, mode, worktree_id, clone_id, result, created_at, started_at, completed_at
	FROM agent_runs`

func scanAgentRun(row *sql.Row) (*core.AgentRun, error) {
	r, err := scanAgentRunRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("agent_run", "")
	}
	return r, err
}

func scanAgentRunRow(scan func(...any) error) (*core.AgentRun, error) {
	var r core.AgentRun
	var childSession, worktreeID, cloneID sql.NullString
	var result string
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := scan(&r.ID, &r.ParentSessionID, &childSession, &r.WorkflowName, &r.Provider, &r.Model,
		&r.Status, &r.Prompt, &r.Isolation, &r.Mode, &worktreeID, &cloneID, &result, &createdAt,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if childSession.Valid {
		id := core.SessionID(childSession.String)
		r.ChildSessionID = &id
	}
	r.WorktreeID = fromNullString(worktreeID)
	r.CloneID = fromNullString(cloneID)
	if err := json.Unmarshal([]byte(result), &r.Result); err != nil {
		return nil, fmt.Errorf("unmarshaling result: %w", err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.StartedAt, err = fromNullTime(startedAt); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = fromNullTime(completedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateWorktreeRecord inserts a new durable worktree record.
func (s *Store) CreateWorktreeRecord(ctx context.Context, w *core.WorktreeRecord) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return s.retryWrite(ctx, "create worktree record", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO worktree_records (id, project_id, task_id, branch_name, worktree_path,
				base_branch, agent_session_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.ProjectID, toNullTaskID(w.TaskID), w.BranchName, w.WorktreePath, w.BaseBranch,
			toNullSessionID(w.AgentSessionID), w.Status, formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
		return err
	})
}

// GetWorktreeRecord loads a worktree record by id.
func (s *Store) GetWorktreeRecord(ctx context.Context, id string) (*core.WorktreeRecord, error) {
	row := s.readDB.QueryRowContext(ctx, worktreeSelect+` WHERE id = ?`, id)
	return scanWorktreeRecord(row)
}

// ListWorktreeRecordsByProject returns every worktree record for a project.
func (s *Store) ListWorktreeRecordsByProject(ctx context.Context, projectID core.ProjectID) ([]*core.WorktreeRecord, error) {
	rows, err := s.readDB.QueryContext(ctx, worktreeSelect+` WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.WorktreeRecord
	for rows.Next() {
		w, err := scanWorktreeRecordRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWorktreeRecord persists the full worktree record, including status
// transitions (active -> stale/merged/abandoned).
func (s *Store) UpdateWorktreeRecord(ctx context.Context, w *core.WorktreeRecord) error {
	return s.retryWrite(ctx, "update worktree record", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE worktree_records SET status = ?, updated_at = ? WHERE id = ?`,
			w.Status, formatTime(w.UpdatedAt), w.ID)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "worktree_record", w.ID)
	})
}

// DeleteWorktreeRecord removes a worktree record once its on-disk worktree
// has been pruned.
func (s *Store) DeleteWorktreeRecord(ctx context.Context, id string) error {
	return s.retryWrite(ctx, "delete worktree record", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM worktree_records WHERE id = ?`, id)
		return err
	})
}

const worktreeSelect = `
	SELECT id, project_id, task_id, branch_name, worktree_path, base_branch, agent_session_id,
		status, created_at, updated_at
	FROM worktree_records`

func scanWorktreeRecord(row *sql.Row) (*core.WorktreeRecord, error) {
	w, err := scanWorktreeRecordRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("worktree_record", "")
	}
	return w, err
}

func scanWorktreeRecordRow(scan func(...any) error) (*core.WorktreeRecord, error) {
	var w core.WorktreeRecord
	var taskID, agentSession sql.NullString
	var createdAt, updatedAt string

	err := scan(&w.ID, &w.ProjectID, &taskID, &w.BranchName, &w.WorktreePath, &w.BaseBranch,
		&agentSession, &w.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		id := core.TaskID(taskID.String)
		w.TaskID = &id
	}
	if agentSession.Valid {
		id := core.SessionID(agentSession.String)
		w.AgentSessionID = &id
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateClone inserts a new durable clone record.
func (s *Store) CreateClone(ctx context.Context, c *core.Clone) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.retryWrite(ctx, "create clone", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO clones (id, project_id, task_id, branch_name, clone_path, base_branch,
				remote_url, agent_session_id, status, last_sync_at, cleanup_after, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ProjectID, toNullTaskID(c.TaskID), c.BranchName, c.ClonePath, c.BaseBranch,
			c.RemoteURL, toNullSessionID(c.AgentSessionID), c.Status, toNullTime(c.LastSyncAt),
			toNullTime(c.CleanupAfter), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
		return err
	})
}

// GetClone loads a clone record by id.
func (s *Store) GetClone(ctx context.Context, id string) (*core.Clone, error) {
	row := s.readDB.QueryRowContext(ctx, cloneSelect+` WHERE id = ?`, id)
	return scanClone(row)
}

// ListClonesDueForCleanup returns every clone whose DueForCleanup(now)
// holds, for the background sweep to remove.
func (s *Store) ListClonesDueForCleanup(ctx context.Context) ([]*core.Clone, error) {
	rows, err := s.readDB.QueryContext(ctx, cloneSelect+`
		WHERE status IN (?, ?) AND cleanup_after IS NOT NULL`,
		core.CloneStatusMerged, core.CloneStatusAbandoned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Clone
	for rows.Next() {
		c, err := scanCloneRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateClone persists the full clone record.
func (s *Store) UpdateClone(ctx context.Context, c *core.Clone) error {
	return s.retryWrite(ctx, "update clone", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE clones SET status = ?, last_sync_at = ?, cleanup_after = ?, updated_at = ?
			WHERE id = ?`,
			c.Status, toNullTime(c.LastSyncAt), toNullTime(c.CleanupAfter), formatTime(c.UpdatedAt), c.ID)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "clone", c.ID)
	})
}

// DeleteClone removes a clone record once its on-disk checkout has been
// deleted.
func (s *Store) DeleteClone(ctx context.Context, id string) error {
	return s.retryWrite(ctx, "delete clone", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM clones WHERE id = ?`, id)
		return err
	})
}

const cloneSelect = `
	SELECT id, project_id, task_id, branch_name, clone_path, base_branch, remote_url,
		agent_session_id, status, last_sync_at, cleanup_after, created_at, updated_at
	FROM clones`

func scanClone(row *sql.Row) (*core.Clone, error) {
	c, err := scanCloneRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("clone", "")
	}
	return c, err
}

func scanCloneRow(scan func(...any) error) (*core.Clone, error) {
	var c core.Clone
	var taskID, agentSession, lastSync, cleanupAfter sql.NullString
	var createdAt, updatedAt string

	err := scan(&c.ID, &c.ProjectID, &taskID, &c.BranchName, &c.ClonePath, &c.BaseBranch,
		&c.RemoteURL, &agentSession, &c.Status, &lastSync, &cleanupAfter, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if taskID.Valid {
		id := core.TaskID(taskID.String)
		c.TaskID = &id
	}
	if agentSession.Valid {
		id := core.SessionID(agentSession.String)
		c.AgentSessionID = &id
	}
	if c.LastSyncAt, err = fromNullTime(lastSync); err != nil {
		return nil, err
	}
	if c.CleanupAfter, err = fromNullTime(cleanupAfter); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
