package core

import (
	"strings"
	"time"
)

// AgentRunStatus is the lifecycle state of a spawned agent.
type AgentRunStatus string

const (
	AgentRunStatusRunning   AgentRunStatus = "running"
	AgentRunStatusCompleted AgentRunStatus = "completed"
	AgentRunStatusTimeout   AgentRunStatus = "timeout"
	AgentRunStatusError     AgentRunStatus = "error"
	AgentRunStatusCancelled AgentRunStatus = "cancelled"
	AgentRunStatusKilled    AgentRunStatus = "killed"
)

// IsolationMode is how a spawned agent's working tree is isolated from its
// parent session's.
type IsolationMode string

const (
	IsolationCurrent  IsolationMode = "current"
	IsolationWorktree IsolationMode = "worktree"
	IsolationClone    IsolationMode = "clone"
)

// SpawnMode is how a spawned agent's process is attached to Gobby.
type SpawnMode string

const (
	SpawnModeInProcess SpawnMode = "in_process"
	SpawnModeTerminal  SpawnMode = "terminal"
	SpawnModeEmbedded  SpawnMode = "embedded"
	SpawnModeHeadless  SpawnMode = "headless"
)

// DefaultMaxAgentDepth bounds how many generations of agent-spawns-agent are
// allowed before AgentOrchestrator.spawn_agent refuses and the caller must
// escalate instead.
const DefaultMaxAgentDepth = 1

// AgentRun is the durable record of one spawn_agent invocation. The running
// process itself is tracked only in the in-memory registry; AgentRun is
// what survives a daemon restart.
type AgentRun struct {
	ID              string
	ParentSessionID SessionID
	ChildSessionID  *SessionID
	WorkflowName    string
	Provider        string
	Model           string
	Status          AgentRunStatus
	Prompt          string
	Isolation       IsolationMode
	Mode            SpawnMode
	WorktreeID      *string
	CloneID         *string
	Result          map[string]any
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Validate checks AgentRun invariants.
func (r *AgentRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrValidation("AGENT_RUN_ID_REQUIRED", "agent run id cannot be empty")
	}
	if strings.TrimSpace(string(r.ParentSessionID)) == "" {
		return ErrValidation("AGENT_RUN_PARENT_REQUIRED", "agent run requires a parent session")
	}
	switch r.Isolation {
	case IsolationCurrent, IsolationWorktree, IsolationClone:
	default:
		return ErrValidation("AGENT_RUN_ISOLATION_INVALID", "unknown isolation mode")
	}
	switch r.Mode {
	case SpawnModeInProcess, SpawnModeTerminal, SpawnModeEmbedded, SpawnModeHeadless:
	default:
		return ErrValidation("AGENT_RUN_MODE_INVALID", "unknown spawn mode")
	}
	return nil
}

// IsTerminal reports whether the agent run has finished (successfully or
// not) and its worktree/clone is eligible for cleanup.
func (r *AgentRun) IsTerminal() bool {
	switch r.Status {
	case AgentRunStatusCompleted, AgentRunStatusTimeout, AgentRunStatusError,
		AgentRunStatusCancelled, AgentRunStatusKilled:
		return true
	default:
		return false
	}
}

// MarkCompleted records a successful finish with its result payload.
func (r *AgentRun) MarkCompleted(result map[string]any) {
	now := time.Now()
	r.Status = AgentRunStatusCompleted
	r.Result = result
	r.CompletedAt = &now
}

// MarkFailed records a non-timeout, non-kill failure.
func (r *AgentRun) MarkFailed(reason string) {
	now := time.Now()
	r.Status = AgentRunStatusError
	r.Result = map[string]any{"error": reason}
	r.CompletedAt = &now
}

// MarkKilled records that kill() terminated the run, with whether the PID
// was already dead when the kill was attempted (spec.md §8 boundary case).
func (r *AgentRun) MarkKilled(alreadyDead bool) {
	now := time.Now()
	r.Status = AgentRunStatusKilled
	r.Result = map[string]any{"already_dead": alreadyDead}
	r.CompletedAt = &now
}

// WorktreeRunStatus is the lifecycle state of a durable Worktree record.
type WorktreeRunStatus string

const (
	WorktreeRunStatusActive    WorktreeRunStatus = "active"
	WorktreeRunStatusStale     WorktreeRunStatus = "stale"
	WorktreeRunStatusMerged    WorktreeRunStatus = "merged"
	WorktreeRunStatusAbandoned WorktreeRunStatus = "abandoned"
)

// WorktreeRecord is the Store's durable row for a git worktree created for
// an agent run, distinct from the ephemeral core.Worktree the GitClient
// reads back from `git worktree list`.
type WorktreeRecord struct {
	ID             string
	ProjectID      ProjectID
	TaskID         *TaskID
	BranchName     string
	WorktreePath   string
	BaseBranch     string
	AgentSessionID *SessionID
	Status         WorktreeRunStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks WorktreeRecord invariants.
func (w *WorktreeRecord) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return ErrValidation("WORKTREE_ID_REQUIRED", "worktree id cannot be empty")
	}
	if strings.TrimSpace(w.BranchName) == "" {
		return ErrValidation("WORKTREE_BRANCH_REQUIRED", "worktree branch name cannot be empty")
	}
	if strings.TrimSpace(w.WorktreePath) == "" {
		return ErrValidation("WORKTREE_PATH_REQUIRED", "worktree path cannot be empty")
	}
	return nil
}

// CloneStatus is the lifecycle state of a durable Clone record.
type CloneStatus string

const (
	CloneStatusActive    CloneStatus = "active"
	CloneStatusStale     CloneStatus = "stale"
	CloneStatusMerged    CloneStatus = "merged"
	CloneStatusAbandoned CloneStatus = "abandoned"
)

// DefaultCloneTTL is how long a merged/abandoned clone survives before the
// background sweep deletes it, absent an explicit CleanupAfter.
const DefaultCloneTTL = 7 * 24 * time.Hour

// Clone is a full, independent repository checkout used for isolation=clone
// agent spawns — unlike a worktree, a clone can be handed to a remote
// sandbox and has its own remote_url rather than sharing the parent repo's
// object store.
type Clone struct {
	ID             string
	ProjectID      ProjectID
	TaskID         *TaskID
	BranchName     string
	ClonePath      string
	BaseBranch     string
	RemoteURL      string
	AgentSessionID *SessionID
	Status         CloneStatus
	LastSyncAt     *time.Time
	CleanupAfter   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks Clone invariants.
func (c *Clone) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrValidation("CLONE_ID_REQUIRED", "clone id cannot be empty")
	}
	if strings.TrimSpace(c.ClonePath) == "" {
		return ErrValidation("CLONE_PATH_REQUIRED", "clone path cannot be empty")
	}
	return nil
}

// DueForCleanup reports whether the background sweep should remove c.
func (c *Clone) DueForCleanup(now time.Time) bool {
	if c.Status != CloneStatusMerged && c.Status != CloneStatusAbandoned {
		return false
	}
	if c.CleanupAfter == nil {
		return false
	}
	return now.After(*c.CleanupAfter)
}

// MessagePriority orders delivery of inter-session messages relative to the
// EventBus's regular (drop-oldest) vs. priority (blocking) subscriber lanes.
type MessagePriority string

const (
	MessagePriorityNormal MessagePriority = "normal"
	MessagePriorityUrgent MessagePriority = "urgent"
)

// InterSessionMessage is a message one session (typically a parent) sends
// to another (typically a spawned child), delivered at-least-once via the
// Store plus an EventBus notification.
type InterSessionMessage struct {
	ID            string
	FromSessionID SessionID
	ToSessionID   SessionID
	Content       string
	Priority      MessagePriority
	SentAt        time.Time
	ReadAt        *time.Time
}

// MarkRead records the message as read. Idempotent: calling it again after
// ReadAt is already set leaves the original timestamp untouched (spec.md §8
// round-trip property).
func (m *InterSessionMessage) MarkRead() {
	if m.ReadAt != nil {
		return
	}
	now := time.Now()
	m.ReadAt = &now
}

// IsRead reports whether the message has been read.
func (m *InterSessionMessage) IsRead() bool {
	return m.ReadAt != nil
}
