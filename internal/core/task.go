package core

import (
	"fmt"
	"strings"
	"time"
)

// ProjectID identifies a project (a git repository Gobby is governing).
type ProjectID string

// SessionID identifies a CLI/agent/MCP session against a project.
type SessionID string

// TaskID identifies a task. Human-created tasks use the "gt-xxxxxx" short
// form; tasks created by automated flows may use a full UUID.
type TaskID string

// OrphanedProjectID is the lazily-created catch-all project used for
// sessions and tasks that have no real repository association yet.
const OrphanedProjectID ProjectID = "_orphaned"

// Project is a git repository under Gobby's governance.
type Project struct {
	ID         ProjectID
	Name       string
	RepoPath   string
	BaseBranch string
	GitHubURL  string
	IsOrphaned bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewProject creates a project with sane defaults for BaseBranch.
func NewProject(id ProjectID, name, repoPath string) *Project {
	return &Project{
		ID:         id,
		Name:       name,
		RepoPath:   repoPath,
		BaseBranch: "main",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// Validate checks project invariants. Name uniqueness is enforced by the
// store as a DB constraint, not here.
func (p *Project) Validate() error {
	if strings.TrimSpace(string(p.ID)) == "" {
		return ErrValidation("PROJECT_ID_REQUIRED", "project id cannot be empty")
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrValidation("PROJECT_NAME_REQUIRED", "project name cannot be empty")
	}
	if !p.IsOrphaned && strings.TrimSpace(p.RepoPath) == "" {
		return ErrValidation("PROJECT_REPO_PATH_REQUIRED", "repo_path required for non-orphaned project")
	}
	return nil
}

// SessionSource identifies how a session entered Gobby.
type SessionSource string

const (
	SessionSourceCLI   SessionSource = "cli"
	SessionSourceAgent SessionSource = "agent"
	SessionSourceMCP   SessionSource = "mcp"
	SessionSourceHTTP  SessionSource = "http"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive       SessionStatus = "active"
	SessionStatusHandoffReady SessionStatus = "handoff_ready"
	SessionStatusExpired      SessionStatus = "expired"
)

// TerminalContext records how to find the controlling process of a
// terminal-mode session, used by AgentOrchestrator.kill()'s tiered PID
// resolution when the agent registry entry itself has been lost (daemon
// restart, crashed tracking).
type TerminalContext struct {
	ParentPID int    `json:"parent_pid,omitempty"`
	TTY       string `json:"tty,omitempty"`
}

// Session is a unit of interaction against a project: a CLI invocation, an
// MCP client connection, or a spawned agent run.
type Session struct {
	ID               SessionID
	ProjectID        ProjectID
	Source           SessionSource
	SeqNum           int
	ParentSessionID  *SessionID
	SpawnedByAgentID *string
	AgentDepth       int
	Status           SessionStatus
	SummaryMarkdown  string
	TerminalContext  *TerminalContext
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewSession creates a root (non-agent-spawned) session.
func NewSession(id SessionID, projectID ProjectID, source SessionSource, seqNum int) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		ProjectID: projectID,
		Source:    source,
		SeqNum:    seqNum,
		Status:    SessionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsChild reports whether this session was spawned by an agent run.
func (s *Session) IsChild() bool {
	return s.ParentSessionID != nil
}

// MarkHandoffReady transitions an active session to handoff_ready, recording
// the summary a successor session (or a human) will pick up from.
func (s *Session) MarkHandoffReady(summary string) error {
	if s.Status != SessionStatusActive {
		return ErrConstraint(CodeInvalidTransition, fmt.Sprintf("cannot mark handoff_ready from %s", s.Status))
	}
	s.Status = SessionStatusHandoffReady
	s.SummaryMarkdown = summary
	s.UpdatedAt = time.Now()
	return nil
}

// MarkExpired transitions a session to expired, its terminal state.
func (s *Session) MarkExpired() error {
	if s.Status == SessionStatusExpired {
		return nil
	}
	s.Status = SessionStatusExpired
	s.UpdatedAt = time.Now()
	return nil
}

// Validate checks session invariants.
func (s *Session) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return ErrValidation("SESSION_ID_REQUIRED", "session id cannot be empty")
	}
	if s.SeqNum <= 0 {
		return ErrValidation("SESSION_SEQ_INVALID", "session seq_num must be positive")
	}
	if s.AgentDepth < 0 {
		return ErrValidation("SESSION_DEPTH_INVALID", "agent depth cannot be negative")
	}
	return nil
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusEscalated  TaskStatus = "escalated"
)

// TaskType categorizes the kind of work a task represents.
type TaskType string

const (
	TaskTypeBug     TaskType = "bug"
	TaskTypeFeature TaskType = "feature"
	TaskTypeTask    TaskType = "task"
	TaskTypeEpic    TaskType = "epic"
	TaskTypeChore   TaskType = "chore"
)

// TaskPriority ranks a task; 1 is highest.
type TaskPriority int

const (
	TaskPriorityHigh   TaskPriority = 1
	TaskPriorityMedium TaskPriority = 2
	TaskPriorityLow    TaskPriority = 3
)

// ValidationStatus records the outcome of the most recent validate_task run.
type ValidationStatus string

const (
	ValidationStatusUnset  ValidationStatus = ""
	ValidationStatusPassed ValidationStatus = "passed"
	ValidationStatusFailed ValidationStatus = "failed"
)

// DependencyType distinguishes the three edge kinds a task graph can carry.
// Only DependencyBlocks affects readiness; it is also the only type that
// must stay acyclic.
type DependencyType string

const (
	DependencyBlocks         DependencyType = "blocks"
	DependencyRelated        DependencyType = "related"
	DependencyDiscoveredFrom DependencyType = "discovered-from"
)

// TaskDependency is a directed edge: FromTaskID depends on / relates to /
// was discovered from ToTaskID.
type TaskDependency struct {
	FromTaskID TaskID
	ToTaskID   TaskID
	Type       DependencyType
	CreatedAt  time.Time
}

// DefaultMaxValidationFails is how many failed validate_task loops a task
// tolerates (via fix subtasks) before it is forced to failed.
const DefaultMaxValidationFails = 3

// Task is a unit of work tracked against a project.
type Task struct {
	ID                  TaskID
	ProjectID           ProjectID
	ParentTaskID        *TaskID
	SeqNum              int
	Title               string
	Description         string
	Details             string
	TestStrategy        string
	Status              TaskStatus
	Priority            TaskPriority
	Type                TaskType
	Labels              []string
	ValidationCriteria  string
	ValidationFailCount int
	ValidationStatus    ValidationStatus
	ValidationFeedback  string
	Commits             []string
	ClosedInSessionID   *SessionID
	ClosedCommitSHA     string
	CreatedInSessionID  *SessionID
	CompactedAt         *time.Time
	Summary             string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewTask creates a pending task with a seq_num that must be unique within
// its project (enforced by the store).
func NewTask(id TaskID, projectID ProjectID, seqNum int, title string) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		ProjectID: projectID,
		SeqNum:    seqNum,
		Title:     title,
		Status:    TaskStatusPending,
		Priority:  TaskPriorityMedium,
		Type:      TaskTypeTask,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks task invariants not already enforced by a DB constraint.
func (t *Task) Validate() error {
	if strings.TrimSpace(string(t.ID)) == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task id cannot be empty")
	}
	if strings.TrimSpace(t.Title) == "" {
		return ErrValidation("TASK_TITLE_REQUIRED", "task title cannot be empty")
	}
	if t.Priority < TaskPriorityHigh || t.Priority > TaskPriorityLow {
		return ErrValidation("TASK_PRIORITY_INVALID", "task priority must be 1-3")
	}
	return nil
}

// touch bumps UpdatedAt; every mutating method calls this so UpdatedAt stays
// monotonic per the concurrency model (spec.md §5).
func (t *Task) touch() { t.UpdatedAt = time.Now() }

// Start transitions a pending (or escalated, on retry) task to in_progress.
func (t *Task) Start() error {
	if t.Status != TaskStatusPending && t.Status != TaskStatusEscalated {
		return ErrConstraint(CodeInvalidTransition, fmt.Sprintf("cannot start task from %s", t.Status))
	}
	t.Status = TaskStatusInProgress
	t.touch()
	return nil
}

// SubmitForReview transitions an in_progress task to review.
func (t *Task) SubmitForReview() error {
	if t.Status != TaskStatusInProgress {
		return ErrConstraint(CodeInvalidTransition, fmt.Sprintf("cannot submit for review from %s", t.Status))
	}
	t.Status = TaskStatusReview
	t.touch()
	return nil
}

// Close transitions a task to completed, recording the session and optional
// commit that closed it. Close is idempotent: closing an already-completed
// task with the same session/commit is a no-op success (round-trip
// property: close/reopen/close converges).
func (t *Task) Close(sessionID SessionID, commitSHA string) error {
	if t.Status == TaskStatusCompleted {
		return nil
	}
	if t.Status == TaskStatusFailed {
		return ErrConstraint(CodeInvalidTransition, "cannot close a failed task; reopen it first")
	}
	t.Status = TaskStatusCompleted
	t.ClosedInSessionID = &sessionID
	t.ClosedCommitSHA = commitSHA
	if commitSHA != "" {
		t.Commits = append(t.Commits, commitSHA)
	}
	t.touch()
	return nil
}

// Reopen moves a completed, failed, or escalated task back to pending,
// clearing closure metadata so it can be worked again.
func (t *Task) Reopen() error {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated:
	default:
		return ErrConstraint(CodeInvalidTransition, fmt.Sprintf("cannot reopen task from %s", t.Status))
	}
	t.Status = TaskStatusPending
	t.ClosedInSessionID = nil
	t.ClosedCommitSHA = ""
	t.ValidationFailCount = 0
	t.ValidationStatus = ValidationStatusUnset
	t.ValidationFeedback = ""
	t.touch()
	return nil
}

// RecordValidationFailure increments the validation failure counter and
// stores the feedback a fix subtask will be created from. Once the count
// reaches maxFails the task is force-failed and the caller must not spawn
// another fix subtask (spec.md §4.3 validate_task loop).
func (t *Task) RecordValidationFailure(feedback string, maxFails int) (forcedFailed bool, err error) {
	if t.Status != TaskStatusReview && t.Status != TaskStatusInProgress {
		return false, ErrConstraint(CodeInvalidTransition, fmt.Sprintf("cannot record validation failure from %s", t.Status))
	}
	if maxFails <= 0 {
		maxFails = DefaultMaxValidationFails
	}
	t.ValidationFailCount++
	t.ValidationStatus = ValidationStatusFailed
	t.ValidationFeedback = feedback
	if t.ValidationFailCount >= maxFails {
		t.Status = TaskStatusFailed
		t.touch()
		return true, nil
	}
	t.touch()
	return false, nil
}

// RecordValidationSuccess marks the task's most recent validation pass.
// It does not itself close the task — the caller does that separately.
func (t *Task) RecordValidationSuccess() {
	t.ValidationStatus = ValidationStatusPassed
	t.ValidationFeedback = ""
	t.touch()
}

// Escalate forces a task into escalated, the state a human must act on
// (e.g. max_agent_depth exceeded, or a plugin raised UserBlocked).
func (t *Task) Escalate(reason string) error {
	if t.IsTerminal() && t.Status != TaskStatusFailed {
		return ErrConstraint(CodeInvalidTransition, fmt.Sprintf("cannot escalate task from %s", t.Status))
	}
	t.Status = TaskStatusEscalated
	t.ValidationFeedback = reason
	t.touch()
	return nil
}

// Compact clears the task's heavy fields (details, test strategy, full
// validation feedback) in favor of Summary, once it has been closed for
// longer than the store's compaction age. Compaction never touches
// identity, status, or dependency-relevant fields.
func (t *Task) Compact(summary string) error {
	if t.Status != TaskStatusCompleted {
		return ErrConstraint(CodeInvalidTransition, "only completed tasks can be compacted")
	}
	now := time.Now()
	t.CompactedAt = &now
	t.Summary = summary
	t.Details = ""
	t.TestStrategy = ""
	t.ValidationFeedback = ""
	t.touch()
	return nil
}

// IsTerminal reports whether the task is in a state list_ready_tasks and
// close_task no longer need to consider for progression.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}
