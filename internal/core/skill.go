package core

import (
	"strings"
	"time"
)

// Skill is a named, structured instruction block surfaced to a session via
// progressive disclosure (list_skills/search_skills) rather than injected in
// full up front. Its Content is opaque to the core: HookDispatcher and the
// workflow template engine treat it as text to rank and inject, never to
// interpret.
type Skill struct {
	ID          string
	ProjectID   *ProjectID // nil means global, available to every project
	Name        string
	Description string
	Content     string
	AlwaysApply bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks skill invariants.
func (s *Skill) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrValidation("SKILL_ID_REQUIRED", "skill id cannot be empty")
	}
	if strings.TrimSpace(s.Name) == "" {
		return ErrValidation("SKILL_NAME_REQUIRED", "skill name cannot be empty")
	}
	return nil
}

// IsGlobal reports whether the skill applies across every project rather
// than just the one it was registered against.
func (s *Skill) IsGlobal() bool {
	return s.ProjectID == nil
}

// Memory is a durable note a session or agent run left behind for future
// sessions against the same project (or globally) to pick up — the
// project's accumulated "what we learned" store. Like Skill, Content is
// opaque beyond context injection.
type Memory struct {
	ID          string
	ProjectID   *ProjectID
	Name        string
	Content     string
	AlwaysApply bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks memory invariants.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrValidation("MEMORY_ID_REQUIRED", "memory id cannot be empty")
	}
	if strings.TrimSpace(m.Name) == "" {
		return ErrValidation("MEMORY_NAME_REQUIRED", "memory name cannot be empty")
	}
	return nil
}

// IsGlobal reports whether the memory applies across every project.
func (m *Memory) IsGlobal() bool {
	return m.ProjectID == nil
}
