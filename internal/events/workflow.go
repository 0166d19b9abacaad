package events

// Event type constants for workflow-state events.
const (
	TypeWorkflowStarted       = "workflow.started"
	TypeWorkflowPhaseEntered  = "workflow.phase_entered"
	TypeWorkflowCompleted     = "workflow.completed"
	TypeWorkflowFailed        = "workflow.failed"
	TypeWorkflowAuditRecorded = "workflow.audit_recorded"
)

// WorkflowStartedEvent is emitted when a WorkflowState is activated for a session.
type WorkflowStartedEvent struct {
	BaseEvent
	WorkflowName string `json:"workflow_name"`
	EntryPhase   string `json:"entry_phase"`
}

func NewWorkflowStartedEvent(sessionID, projectID, workflowName, entryPhase string) WorkflowStartedEvent {
	return WorkflowStartedEvent{
		BaseEvent:    NewBaseEvent(TypeWorkflowStarted, sessionID, projectID),
		WorkflowName: workflowName,
		EntryPhase:   entryPhase,
	}
}

// WorkflowPhaseEnteredEvent is emitted when a phase transition commits.
type WorkflowPhaseEnteredEvent struct {
	BaseEvent
	WorkflowName string `json:"workflow_name"`
	FromPhase    string `json:"from_phase"`
	ToPhase      string `json:"to_phase"`
}

func NewWorkflowPhaseEnteredEvent(sessionID, projectID, workflowName, fromPhase, toPhase string) WorkflowPhaseEnteredEvent {
	return WorkflowPhaseEnteredEvent{
		BaseEvent:    NewBaseEvent(TypeWorkflowPhaseEntered, sessionID, projectID),
		WorkflowName: workflowName,
		FromPhase:    fromPhase,
		ToPhase:      toPhase,
	}
}

// WorkflowCompletedEvent is emitted once per session when the terminal phase
// is reached. This is a priority event — never dropped.
type WorkflowCompletedEvent struct {
	BaseEvent
	WorkflowName string `json:"workflow_name"`
}

func NewWorkflowCompletedEvent(sessionID, projectID, workflowName string) WorkflowCompletedEvent {
	return WorkflowCompletedEvent{
		BaseEvent:    NewBaseEvent(TypeWorkflowCompleted, sessionID, projectID),
		WorkflowName: workflowName,
	}
}

// WorkflowFailedEvent is emitted when a workflow action errors in a way the
// HookDispatcher can't route around. Priority event.
type WorkflowFailedEvent struct {
	BaseEvent
	WorkflowName string `json:"workflow_name"`
	Phase        string `json:"phase"`
	Error        string `json:"error"`
}

func NewWorkflowFailedEvent(sessionID, projectID, workflowName, phase string, err error) WorkflowFailedEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return WorkflowFailedEvent{
		BaseEvent:    NewBaseEvent(TypeWorkflowFailed, sessionID, projectID),
		WorkflowName: workflowName,
		Phase:        phase,
		Error:        errStr,
	}
}

// WorkflowAuditRecordedEvent is emitted each time a WorkflowAuditEntry is
// appended, mirroring it onto the bus for live tailing.
type WorkflowAuditRecordedEvent struct {
	BaseEvent
	Action string `json:"action"`
	Phase  string `json:"phase"`
}

func NewWorkflowAuditRecordedEvent(sessionID, projectID, action, phase string) WorkflowAuditRecordedEvent {
	return WorkflowAuditRecordedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowAuditRecorded, sessionID, projectID),
		Action:    action,
		Phase:     phase,
	}
}
