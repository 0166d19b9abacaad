package events

// Event type constants for session lifecycle events.
const (
	TypeSessionStarted = "session.started"
	TypeSessionEnded   = "session.ended"
)

// SessionStartedEvent is emitted when the session_start hook resolves or
// creates a Project and opens a new Session row.
type SessionStartedEvent struct {
	BaseEvent
	ParentSessionID string `json:"parent_session_id,omitempty"`
}

func NewSessionStartedEvent(sessionID, projectID, parentSessionID string) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent:       NewBaseEvent(TypeSessionStarted, sessionID, projectID),
		ParentSessionID: parentSessionID,
	}
}

// SessionEndedEvent is emitted when a session's process exits.
type SessionEndedEvent struct {
	BaseEvent
	Reason string `json:"reason,omitempty"`
}

func NewSessionEndedEvent(sessionID, projectID, reason string) SessionEndedEvent {
	return SessionEndedEvent{BaseEvent: NewBaseEvent(TypeSessionEnded, sessionID, projectID), Reason: reason}
}
