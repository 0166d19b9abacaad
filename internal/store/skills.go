package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gobbyhq/gobby/internal/core"
)

// CreateSkill inserts a new skill, global (ProjectID nil) or project-scoped.
func (s *Store) CreateSkill(ctx context.Context, sk *core.Skill) error {
	if err := sk.Validate(); err != nil {
		return err
	}
	return s.retryWrite(ctx, "create skill", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO skills (id, project_id, name, description, content, always_apply, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sk.ID, toNullProjectID(sk.ProjectID), sk.Name, sk.Description, sk.Content,
			boolToInt(sk.AlwaysApply), formatTime(sk.CreatedAt), formatTime(sk.UpdatedAt))
		return err
	})
}

// ListSkills returns every skill visible to a project: global skills plus
// that project's own, used by list_skills/search_skills's candidate set
// before ranking via core.SearchBackend.
func (s *Store) ListSkills(ctx context.Context, projectID core.ProjectID) ([]*core.Skill, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, project_id, name, description, content, always_apply, created_at, updated_at
		FROM skills WHERE project_id IS NULL OR project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Skill
	for rows.Next() {
		var sk core.Skill
		var projID sql.NullString
		var alwaysApply int
		var createdAt, updatedAt string
		if err := rows.Scan(&sk.ID, &projID, &sk.Name, &sk.Description, &sk.Content, &alwaysApply, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if projID.Valid {
			pid := core.ProjectID(projID.String)
			sk.ProjectID = &pid
		}
		sk.AlwaysApply = alwaysApply != 0
		if sk.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if sk.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sk)
	}
	return out, rows.Err()
}

// GetSkill loads a skill by id.
func (s *Store) GetSkill(ctx context.Context, id string) (*core.Skill, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, content, always_apply, created_at, updated_at
		FROM skills WHERE id = ?`, id)

	var sk core.Skill
	var projID sql.NullString
	var alwaysApply int
	var createdAt, updatedAt string
	err := row.Scan(&sk.ID, &projID, &sk.Name, &sk.Description, &sk.Content, &alwaysApply, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("skill", id)
	}
	if err != nil {
		return nil, err
	}
	if projID.Valid {
		pid := core.ProjectID(projID.String)
		sk.ProjectID = &pid
	}
	sk.AlwaysApply = alwaysApply != 0
	if sk.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sk.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sk, nil
}

// DeleteSkill removes a skill by id.
func (s *Store) DeleteSkill(ctx context.Context, id string) error {
	return s.retryWrite(ctx, "delete skill", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE id = ?`, id)
		return err
	})
}

// CreateMemory inserts a new memory, global (ProjectID nil) or project-scoped.
func (s *Store) CreateMemory(ctx context.Context, m *core.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.retryWrite(ctx, "create memory", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (id, project_id, name, content, always_apply, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, toNullProjectID(m.ProjectID), m.Name, m.Content, boolToInt(m.AlwaysApply),
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
		return err
	})
}

// ListMemories returns every memory visible to a project.
func (s *Store) ListMemories(ctx context.Context, projectID core.ProjectID) ([]*core.Memory, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, project_id, name, content, always_apply, created_at, updated_at
		FROM memories WHERE project_id IS NULL OR project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Memory
	for rows.Next() {
		var m core.Memory
		var projID sql.NullString
		var alwaysApply int
		var createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &projID, &m.Name, &m.Content, &alwaysApply, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if projID.Valid {
			pid := core.ProjectID(projID.String)
			m.ProjectID = &pid
		}
		m.AlwaysApply = alwaysApply != 0
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMemory removes a memory by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.retryWrite(ctx, "delete memory", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
		return err
	})
}

func toNullProjectID(id *core.ProjectID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}
