package events

// Event type constants for inter-session messaging events.
const (
	TypeMessageSent = "message.sent"
	TypeMessageRead = "message.read"
)

// MessageSentEvent is emitted when an InterSessionMessage is persisted,
// before the recipient has necessarily observed it — delivery is
// at-least-once and this event is how a blocked sender's wait is woken.
type MessageSentEvent struct {
	BaseEvent
	MessageID   string `json:"message_id"`
	ToSessionID string `json:"to_session_id"`
	Priority    string `json:"priority"`
}

func NewMessageSentEvent(fromSessionID, projectID, messageID, toSessionID, priority string) MessageSentEvent {
	return MessageSentEvent{
		BaseEvent:   NewBaseEvent(TypeMessageSent, fromSessionID, projectID),
		MessageID:   messageID,
		ToSessionID: toSessionID,
		Priority:    priority,
	}
}

// MessageReadEvent is emitted when MarkMessageRead records a read receipt.
type MessageReadEvent struct {
	BaseEvent
	MessageID string `json:"message_id"`
}

func NewMessageReadEvent(sessionID, projectID, messageID string) MessageReadEvent {
	return MessageReadEvent{BaseEvent: NewBaseEvent(TypeMessageRead, sessionID, projectID), MessageID: messageID}
}
