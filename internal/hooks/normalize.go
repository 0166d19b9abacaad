// Package hooks implements the HookDispatcher (C5): the single entry point
// every CLI hook event passes through before it reaches the WorkflowEngine.
package hooks

import (
	"fmt"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
)

// Source names the CLI adapter a raw hook payload originated from. Only a
// generic JSON-over-stdio/HTTP shape is actually parsed — real per-CLI
// transcript parsing is out of scope (spec.md §1) — but the pipeline still
// records which adapter a payload claims to be from, for observability.
const (
	SourceClaude = "claude"
	SourceGemini = "gemini"
	SourceCodex  = "codex"
	SourceOther  = "other"
)

// Hook event types spec.md §4.5 names.
const (
	EventSessionStart = "session_start"
	EventSessionEnd   = "session_end"
	EventPromptSubmit = "prompt_submit"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventBeforeAgent  = "before_agent"
)

// NormalizeHookEvent parses the generic JSON-over-stdio/HTTP payload shape
// every adapter is expected to emit ({event, session_id, tool, args}) into a
// core.HookEvent. Unknown extra keys are ignored.
func NormalizeHookEvent(source string, raw map[string]any) (core.HookEvent, error) {
	eventType, _ := raw["event"].(string)
	if eventType == "" {
		return core.HookEvent{}, core.ErrValidation("HOOK_EVENT_TYPE_REQUIRED", "hook payload missing \"event\"")
	}
	sessionID, _ := raw["session_id"].(string)
	toolName, _ := raw["tool"].(string)

	var args map[string]any
	if a, ok := raw["args"].(map[string]any); ok {
		args = a
	}

	ts := time.Now()
	if tsStr, ok := raw["timestamp"].(string); ok && tsStr != "" {
		if parsed, err := time.Parse(time.RFC3339, tsStr); err == nil {
			ts = parsed
		}
	}

	if source == "" {
		source = SourceOther
	}

	return core.HookEvent{
		Type:      eventType,
		Source:    source,
		SessionID: core.SessionID(sessionID),
		ToolName:  toolName,
		Args:      args,
		Timestamp: ts,
	}, nil
}

// sessionRef renders the "#N" ref session_start's response instructs the
// agent to remember, per spec.md §4.5's Session ID injection.
func sessionRef(seqNum int) string {
	return fmt.Sprintf("#%d", seqNum)
}
