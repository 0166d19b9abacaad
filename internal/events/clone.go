package events

// Event type constants for clone isolation events.
const (
	TypeCloneCreated = "clone.created"
	TypeCloneSynced  = "clone.synced"
	TypeCloneCleaned = "clone.cleaned"
)

// CloneCreatedEvent is emitted when CloneIsolationHandler clones a project
// into its own cache directory for an agent run.
type CloneCreatedEvent struct {
	BaseEvent
	CloneID    string `json:"clone_id"`
	BranchName string `json:"branch_name"`
	TaskID     string `json:"task_id,omitempty"`
}

func NewCloneCreatedEvent(sessionID, projectID, cloneID, branchName, taskID string) CloneCreatedEvent {
	return CloneCreatedEvent{
		BaseEvent:  NewBaseEvent(TypeCloneCreated, sessionID, projectID),
		CloneID:    cloneID,
		BranchName: branchName,
		TaskID:     taskID,
	}
}

// CloneSyncedEvent is emitted when a clone's LastSyncAt is refreshed against
// its remote.
type CloneSyncedEvent struct {
	BaseEvent
	CloneID string `json:"clone_id"`
}

func NewCloneSyncedEvent(sessionID, projectID, cloneID string) CloneSyncedEvent {
	return CloneSyncedEvent{BaseEvent: NewBaseEvent(TypeCloneSynced, sessionID, projectID), CloneID: cloneID}
}

// CloneCleanedEvent is emitted when the cleanup sweep removes a clone past
// its CleanupAfter deadline.
type CloneCleanedEvent struct {
	BaseEvent
	CloneID string `json:"clone_id"`
}

func NewCloneCleanedEvent(sessionID, projectID, cloneID string) CloneCleanedEvent {
	return CloneCleanedEvent{BaseEvent: NewBaseEvent(TypeCloneCleaned, sessionID, projectID), CloneID: cloneID}
}
