package events

// Event type constants for worktree isolation events.
const (
	TypeWorktreeCreated   = "worktree.created"
	TypeWorktreeMerged    = "worktree.merged"
	TypeWorktreeAbandoned = "worktree.abandoned"
)

// WorktreeCreatedEvent is emitted when WorktreeIsolationHandler checks out a
// new branch into a fresh working tree for an agent run.
type WorktreeCreatedEvent struct {
	BaseEvent
	WorktreeID string `json:"worktree_id"`
	BranchName string `json:"branch_name"`
	TaskID     string `json:"task_id,omitempty"`
}

func NewWorktreeCreatedEvent(sessionID, projectID, worktreeID, branchName, taskID string) WorktreeCreatedEvent {
	return WorktreeCreatedEvent{
		BaseEvent:  NewBaseEvent(TypeWorktreeCreated, sessionID, projectID),
		WorktreeID: worktreeID,
		BranchName: branchName,
		TaskID:     taskID,
	}
}

// WorktreeMergedEvent is emitted once a worktree's branch has been merged
// back and the record is retired to status "merged".
type WorktreeMergedEvent struct {
	BaseEvent
	WorktreeID string `json:"worktree_id"`
	Strategy   string `json:"strategy"`
}

func NewWorktreeMergedEvent(sessionID, projectID, worktreeID, strategy string) WorktreeMergedEvent {
	return WorktreeMergedEvent{
		BaseEvent:  NewBaseEvent(TypeWorktreeMerged, sessionID, projectID),
		WorktreeID: worktreeID,
		Strategy:   strategy,
	}
}

// WorktreeAbandonedEvent is emitted when a worktree is removed without merge,
// either by explicit request or the cleanup sweep.
type WorktreeAbandonedEvent struct {
	BaseEvent
	WorktreeID string `json:"worktree_id"`
	Reason     string `json:"reason,omitempty"`
}

func NewWorktreeAbandonedEvent(sessionID, projectID, worktreeID, reason string) WorktreeAbandonedEvent {
	return WorktreeAbandonedEvent{
		BaseEvent:  NewBaseEvent(TypeWorktreeAbandoned, sessionID, projectID),
		WorktreeID: worktreeID,
		Reason:     reason,
	}
}
