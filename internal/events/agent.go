package events

import "time"

// Event type constants for agent run events.
const (
	TypeAgentSpawned = "agent.spawned"
	TypeAgentKilled  = "agent.killed"
	TypeAgentDone    = "agent.completed"
	TypeAgentStream  = "agent.stream"
)

// AgentSpawnedEvent is emitted when spawn_agent creates an AgentRun row and
// dispatches it to a Spawner.
type AgentSpawnedEvent struct {
	BaseEvent
	RunID       string `json:"run_id"`
	Provider    string `json:"provider"`
	Isolation   string `json:"isolation"`
	Mode        string `json:"mode"`
	ChildSessID string `json:"child_session_id,omitempty"`
}

func NewAgentSpawnedEvent(sessionID, projectID, runID, provider, isolation, mode, childSessionID string) AgentSpawnedEvent {
	return AgentSpawnedEvent{
		BaseEvent:   NewBaseEvent(TypeAgentSpawned, sessionID, projectID),
		RunID:       runID,
		Provider:    provider,
		Isolation:   isolation,
		Mode:        mode,
		ChildSessID: childSessionID,
	}
}

// AgentDoneEvent is emitted when an AgentRun reaches a terminal status.
type AgentDoneEvent struct {
	BaseEvent
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func NewAgentDoneEvent(sessionID, projectID, runID, status string) AgentDoneEvent {
	return AgentDoneEvent{BaseEvent: NewBaseEvent(TypeAgentDone, sessionID, projectID), RunID: runID, Status: status}
}

// AgentKilledEvent is emitted when kill() resolves an AgentRun via any of its
// tiered shutdown paths.
type AgentKilledEvent struct {
	BaseEvent
	RunID        string `json:"run_id"`
	AlreadyDead  bool   `json:"already_dead"`
	EscalatedVia string `json:"escalated_via,omitempty"`
}

func NewAgentKilledEvent(sessionID, projectID, runID string, alreadyDead bool, escalatedVia string) AgentKilledEvent {
	return AgentKilledEvent{
		BaseEvent:    NewBaseEvent(TypeAgentKilled, sessionID, projectID),
		RunID:        runID,
		AlreadyDead:  alreadyDead,
		EscalatedVia: escalatedVia,
	}
}

// AgentStreamKind classifies an AgentStreamEvent's payload.
type AgentStreamKind string

const (
	AgentStreamThinking AgentStreamKind = "thinking"
	AgentStreamToolUse  AgentStreamKind = "tool_use"
	AgentStreamChunk    AgentStreamKind = "chunk"
	AgentStreamProgress AgentStreamKind = "progress"
)

// AgentStreamEvent is a real-time streaming update from a running agent,
// forwarded from the Spawner's stdout/SDK stream onto the bus so HTTP
// WebSocket clients can tail a run live.
type AgentStreamEvent struct {
	BaseEvent
	RunID string                 `json:"run_id"`
	Kind  AgentStreamKind        `json:"kind"`
	Tool  string                 `json:"tool,omitempty"`
	Text  string                 `json:"text,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// NewAgentStreamEvent creates an agent stream event stamped with the current time.
func NewAgentStreamEvent(sessionID, projectID, runID string, kind AgentStreamKind, text string) AgentStreamEvent {
	return NewAgentStreamEventAt(time.Now(), sessionID, projectID, runID, kind, text)
}

// NewAgentStreamEventAt lets the caller supply the timestamp, so persistence
// and the live broadcast share the exact same value.
func NewAgentStreamEventAt(ts time.Time, sessionID, projectID, runID string, kind AgentStreamKind, text string) AgentStreamEvent {
	return AgentStreamEvent{
		BaseEvent: BaseEvent{Type: TypeAgentStream, Time: ts, Session: sessionID, Project: projectID},
		RunID:     runID,
		Kind:      kind,
		Text:      text,
	}
}

// WithTool annotates the event with which tool call it describes.
func (e AgentStreamEvent) WithTool(tool string) AgentStreamEvent {
	e.Tool = tool
	return e
}

// WithData attaches structured payload to the event.
func (e AgentStreamEvent) WithData(data map[string]interface{}) AgentStreamEvent {
	e.Data = data
	return e
}
