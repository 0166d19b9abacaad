package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gobbyhq/gobby/internal/core"
)

// CreateTask inserts a new task.
func (s *Store) CreateTask(ctx context.Context, t *core.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshaling labels: %w", err)
	}
	commits, err := json.Marshal(t.Commits)
	if err != nil {
		return fmt.Errorf("marshaling commits: %w", err)
	}

	return s.retryWrite(ctx, "create task", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, parent_task_id, seq_num, title, description, details,
				test_strategy, status, priority, type, labels, validation_criteria, validation_fail_count,
				validation_status, validation_feedback, commits, closed_in_session_id, closed_commit_sha,
				created_in_session_id, compacted_at, summary, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, toNullTaskID(t.ParentTaskID), t.SeqNum, t.Title, t.Description, t.Details,
			t.TestStrategy, t.Status, int(t.Priority), t.Type, string(labels), t.ValidationCriteria,
			t.ValidationFailCount, t.ValidationStatus, t.ValidationFeedback, string(commits),
			toNullSessionID(t.ClosedInSessionID), t.ClosedCommitSHA, toNullSessionID(t.CreatedInSessionID),
			toNullTime(t.CompactedAt), t.Summary, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
		if isUniqueViolation(err) {
			return core.ErrConstraint(core.CodeDuplicateSeq, fmt.Sprintf("task seq_num %d already used in project %s", t.SeqNum, t.ProjectID)).WithCause(err)
		}
		return err
	})
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id core.TaskID) (*core.Task, error) {
	row := s.readDB.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	return scanTask(row)
}

// ListTasksByProject returns every task for a project, ordered by seq_num.
func (s *Store) ListTasksByProject(ctx context.Context, projectID core.ProjectID) ([]*core.Task, error) {
	rows, err := s.readDB.QueryContext(ctx, taskSelect+` WHERE project_id = ? ORDER BY seq_num`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListReadyTasks returns pending, non-terminal tasks in a project that have
// no unmet "blocks" dependency — the set list_ready_tasks surfaces.
func (s *Store) ListReadyTasks(ctx context.Context, projectID core.ProjectID) ([]*core.Task, error) {
	rows, err := s.readDB.QueryContext(ctx, taskSelect+`
		WHERE project_id = ? AND status = ?
		AND id NOT IN (
			SELECT td.from_task_id FROM task_dependencies td
			JOIN tasks blocker ON blocker.id = td.to_task_id
			WHERE td.type = ? AND blocker.status NOT IN (?, ?)
		)
		ORDER BY priority, seq_num`,
		projectID, core.TaskStatusPending, core.DependencyBlocks, core.TaskStatusCompleted, core.TaskStatusFailed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// UpdateTask persists the full task record.
func (s *Store) UpdateTask(ctx context.Context, t *core.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return fmt.Errorf("marshaling labels: %w", err)
	}
	commits, err := json.Marshal(t.Commits)
	if err != nil {
		return fmt.Errorf("marshaling commits: %w", err)
	}

	return s.retryWrite(ctx, "update task", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, details = ?, test_strategy = ?, status = ?,
				priority = ?, type = ?, labels = ?, validation_criteria = ?, validation_fail_count = ?,
				validation_status = ?, validation_feedback = ?, commits = ?, closed_in_session_id = ?,
				closed_commit_sha = ?, compacted_at = ?, summary = ?, updated_at = ?
			WHERE id = ?`,
			t.Title, t.Description, t.Details, t.TestStrategy, t.Status, int(t.Priority), t.Type,
			string(labels), t.ValidationCriteria, t.ValidationFailCount, t.ValidationStatus,
			t.ValidationFeedback, string(commits), toNullSessionID(t.ClosedInSessionID), t.ClosedCommitSHA,
			toNullTime(t.CompactedAt), t.Summary, formatTime(t.UpdatedAt), t.ID)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "task", string(t.ID))
	})
}

// DeleteTask removes a task and its dependency edges. Used by expand_task's
// transactional rollback when a post-hoc cycle check fails partway through
// an expansion; not exposed as a general-purpose CLI/MCP operation.
func (s *Store) DeleteTask(ctx context.Context, id core.TaskID) error {
	return s.retryWrite(ctx, "delete task", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM task_dependencies WHERE from_task_id = ? OR to_task_id = ?`, id, id); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		return err
	})
}

// AddDependency inserts a directed edge. For DependencyBlocks it first
// walks the existing graph to refuse a cycle (spec.md §4.3 DAG invariant),
// via iterative DFS starting from ToTaskID looking for a path back to
// FromTaskID.
func (s *Store) AddDependency(ctx context.Context, dep *core.TaskDependency) error {
	if dep.Type == core.DependencyBlocks {
		cyclic, err := s.wouldCreateCycle(ctx, dep.FromTaskID, dep.ToTaskID)
		if err != nil {
			return err
		}
		if cyclic {
			return core.ErrConstraint(core.CodeDAGCycle, fmt.Sprintf("adding %s -> %s would create a dependency cycle", dep.FromTaskID, dep.ToTaskID))
		}
	}

	return s.retryWrite(ctx, "add dependency", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_dependencies (from_task_id, to_task_id, type, created_at)
			VALUES (?, ?, ?, ?)`, dep.FromTaskID, dep.ToTaskID, dep.Type, formatTime(dep.CreatedAt))
		return err
	})
}

// RemoveDependency deletes a directed edge.
func (s *Store) RemoveDependency(ctx context.Context, fromID, toID core.TaskID, depType core.DependencyType) error {
	return s.retryWrite(ctx, "remove dependency", func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM task_dependencies WHERE from_task_id = ? AND to_task_id = ? AND type = ?`,
			fromID, toID, depType)
		return err
	})
}

// ListDependencies returns every outgoing edge from a task.
func (s *Store) ListDependencies(ctx context.Context, fromID core.TaskID) ([]*core.TaskDependency, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT from_task_id, to_task_id, type, created_at FROM task_dependencies WHERE from_task_id = ?`, fromID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.TaskDependency
	for rows.Next() {
		var d core.TaskDependency
		var createdAt string
		if err := rows.Scan(&d.FromTaskID, &d.ToTaskID, &d.Type, &createdAt); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// wouldCreateCycle reports whether a new "blocks" edge from -> to would
// close a cycle, by checking whether to can already reach from through
// existing "blocks" edges (iterative DFS, no recursion depth limit).
func (s *Store) wouldCreateCycle(ctx context.Context, from, to core.TaskID) (bool, error) {
	if from == to {
		return true, nil
	}
	visited := map[core.TaskID]bool{}
	stack := []core.TaskID{to}
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == from {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		rows, err := s.readDB.QueryContext(ctx, `
			SELECT to_task_id FROM task_dependencies WHERE from_task_id = ? AND type = ?`, cur, core.DependencyBlocks)
		if err != nil {
			return false, err
		}
		var next []core.TaskID
		for rows.Next() {
			var id core.TaskID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, id)
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return false, rowsErr
		}
		stack = append(stack, next...)
	}
	return false, nil
}

const taskSelect = `
	SELECT id, project_id, parent_task_id, seq_num, title, description, details, test_strategy,
		status, priority, type, labels, validation_criteria, validation_fail_count, validation_status,
		validation_feedback, commits, closed_in_session_id, closed_commit_sha, created_in_session_id,
		compacted_at, summary, created_at, updated_at
	FROM tasks`

func scanTask(row *sql.Row) (*core.Task, error) {
	t, err := scanTaskCommon(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", "")
	}
	return t, err
}

func scanTasks(rows *sql.Rows) ([]*core.Task, error) {
	var out []*core.Task
	for rows.Next() {
		t, err := scanTaskCommon(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTaskCommon(scan func(...any) error) (*core.Task, error) {
	var t core.Task
	var parentTaskID, closedSession, createdSession, compactedAt sql.NullString
	var priority int
	var labels, commits string
	var createdAt, updatedAt string

	err := scan(&t.ID, &t.ProjectID, &parentTaskID, &t.SeqNum, &t.Title, &t.Description, &t.Details,
		&t.TestStrategy, &t.Status, &priority, &t.Type, &labels, &t.ValidationCriteria,
		&t.ValidationFailCount, &t.ValidationStatus, &t.ValidationFeedback, &commits, &closedSession,
		&t.ClosedCommitSHA, &createdSession, &compactedAt, &t.Summary, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Priority = core.TaskPriority(priority)
	if parentTaskID.Valid {
		id := core.TaskID(parentTaskID.String)
		t.ParentTaskID = &id
	}
	if closedSession.Valid {
		id := core.SessionID(closedSession.String)
		t.ClosedInSessionID = &id
	}
	if createdSession.Valid {
		id := core.SessionID(createdSession.String)
		t.CreatedInSessionID = &id
	}
	if err := json.Unmarshal([]byte(labels), &t.Labels); err != nil {
		return nil, fmt.Errorf("unmarshaling labels: %w", err)
	}
	if err := json.Unmarshal([]byte(commits), &t.Commits); err != nil {
		return nil, fmt.Errorf("unmarshaling commits: %w", err)
	}
	if t.CompactedAt, err = fromNullTime(compactedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func toNullTaskID(id *core.TaskID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}
