package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gobbyhq/gobby/internal/core"
)

// CreateProject inserts a new project. Returns a constraint error if a
// project with the same name already exists.
func (s *Store) CreateProject(ctx context.Context, p *core.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.retryWrite(ctx, "create project", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO projects (id, name, repo_path, base_branch, github_url, is_orphaned, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, p.RepoPath, p.BaseBranch, p.GitHubURL, boolToInt(p.IsOrphaned),
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
		if isUniqueViolation(err) {
			return core.ErrConstraint("DUPLICATE_PROJECT_NAME", fmt.Sprintf("project name %q already exists", p.Name)).WithCause(err)
		}
		return err
	})
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id core.ProjectID) (*core.Project, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, repo_path, base_branch, github_url, is_orphaned, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

// GetProjectByName loads a project by its unique name.
func (s *Store) GetProjectByName(ctx context.Context, name string) (*core.Project, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, repo_path, base_branch, github_url, is_orphaned, created_at, updated_at
		FROM projects WHERE name = ?`, name)
	return scanProject(row)
}

// ListProjects returns every project, ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*core.Project, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, name, repo_path, base_branch, github_url, is_orphaned, created_at, updated_at
		FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*core.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject persists the full project record, used after mutating its
// base branch or GitHub URL.
func (s *Store) UpdateProject(ctx context.Context, p *core.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.retryWrite(ctx, "update project", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE projects SET name = ?, repo_path = ?, base_branch = ?, github_url = ?, is_orphaned = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.RepoPath, p.BaseBranch, p.GitHubURL, boolToInt(p.IsOrphaned), formatTime(p.UpdatedAt), p.ID)
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "project", string(p.ID))
	})
}

func scanProject(row *sql.Row) (*core.Project, error) {
	var p core.Project
	var isOrphaned int
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.RepoPath, &p.BaseBranch, &p.GitHubURL, &isOrphaned, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("project", "")
	}
	if err != nil {
		return nil, err
	}
	p.IsOrphaned = isOrphaned != 0
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProjectRows(rows *sql.Rows) (*core.Project, error) {
	var p core.Project
	var isOrphaned int
	var createdAt, updatedAt string
	if err := rows.Scan(&p.ID, &p.Name, &p.RepoPath, &p.BaseBranch, &p.GitHubURL, &isOrphaned, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.IsOrphaned = isOrphaned != 0
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE"))
}
