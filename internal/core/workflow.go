package core

import (
	"fmt"
	"strings"
	"time"
)

// Phase names a point in a WorkflowDefinition's phase graph. Unlike the
// teacher's fixed three-phase enum, Gobby's phases are whatever a
// WorkflowDefinition's YAML declares — "analyze"/"plan"/"execute" is just
// the convention the bundled default workflow happens to use.
type Phase string

// WorkflowDefinitionType distinguishes the three shapes a definition's YAML
// can take; "phase" is the common case governing a session's active
// WorkflowState, "step" is a single reusable unit, "lifecycle" composes
// phases/steps into the session_start -> session_end envelope.
type WorkflowDefinitionType string

const (
	WorkflowDefTypeLifecycle WorkflowDefinitionType = "lifecycle"
	WorkflowDefTypePhase     WorkflowDefinitionType = "phase"
	WorkflowDefTypeStep      WorkflowDefinitionType = "step"
)

// RuleAction is what a matched rule does to the triggering tool call.
type RuleAction string

const (
	RuleActionBlock           RuleAction = "block"
	RuleActionRequireApproval RuleAction = "require_approval"
	RuleActionWarn            RuleAction = "warn"
	RuleActionAllow           RuleAction = "allow"
)

// Rule is one entry of a phase/step's rules[] list: a safe-expression
// condition (internal/workflow/expr grammar) paired with an action.
type Rule struct {
	ID        string     `yaml:"id" json:"id"`
	Condition string     `yaml:"condition" json:"condition"`
	Action    RuleAction `yaml:"action" json:"action"`
	Message   string     `yaml:"message,omitempty" json:"message,omitempty"`
}

// Transition is one entry of a phase's transitions[] list: when Condition
// evaluates true, WorkflowEngine moves the session to ToPhase.
type Transition struct {
	Condition string `yaml:"condition" json:"condition"`
	ToPhase   Phase  `yaml:"to_phase" json:"to_phase"`
}

// PhaseDefinition is one phase (or step, for WorkflowDefTypeStep
// definitions) in a WorkflowDefinition's graph.
type PhaseDefinition struct {
	Name           Phase        `yaml:"name" json:"name"`
	AllowedTools   []string     `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	BlockedTools   []string     `yaml:"blocked_tools,omitempty" json:"blocked_tools,omitempty"`
	Rules          []Rule       `yaml:"rules,omitempty" json:"rules,omitempty"`
	OnEnter        []string     `yaml:"on_enter,omitempty" json:"on_enter,omitempty"`
	OnExit         []string     `yaml:"on_exit,omitempty" json:"on_exit,omitempty"`
	ExitConditions []string     `yaml:"exit_conditions,omitempty" json:"exit_conditions,omitempty"`
	Transitions    []Transition `yaml:"transitions,omitempty" json:"transitions,omitempty"`
}

// WorkflowDefinition is the parsed, merged form of a workflow YAML file
// (project-local `.gobby/workflows/*.yaml` or global `~/.gobby/workflows/`).
// `Extends` is resolved (deep-merged, cycle-checked) by the loader before a
// WorkflowDefinition reaches the engine; by the time one exists here,
// Extends is informational only.
type WorkflowDefinition struct {
	Name        string                     `yaml:"name" json:"name"`
	Type        WorkflowDefinitionType     `yaml:"type" json:"type"`
	Extends     string                     `yaml:"extends,omitempty" json:"extends,omitempty"`
	Description string                     `yaml:"description,omitempty" json:"description,omitempty"`
	EntryPhase  Phase                      `yaml:"entry_phase" json:"entry_phase"`
	Phases      map[Phase]*PhaseDefinition `yaml:"phases" json:"phases"`
	Variables   map[string]any             `yaml:"variables,omitempty" json:"variables,omitempty"`
	SourcePath  string                     `yaml:"-" json:"-"`
	Global      bool                       `yaml:"-" json:"-"`
	// PhaseOrder records the YAML declaration order of Phases, since Go map
	// iteration is randomized but auto-advance ("next phase in declaration
	// order", spec.md §4.4 step 6) is order-sensitive. Populated by the
	// loader from the raw document, not by yaml.Unmarshal itself.
	PhaseOrder []Phase `yaml:"-" json:"-"`
}

// Phase looks up a phase definition by name.
func (d *WorkflowDefinition) Phase(name Phase) (*PhaseDefinition, bool) {
	p, ok := d.Phases[name]
	return p, ok
}

// Validate checks structural invariants a loaded definition must satisfy
// before it can be activated against a session. DAG/extends-cycle checking
// happens in the loader, not here, since it requires the full definition
// set.
func (d *WorkflowDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrValidation("WORKFLOW_NAME_REQUIRED", "workflow definition name cannot be empty")
	}
	switch d.Type {
	case WorkflowDefTypeLifecycle, WorkflowDefTypePhase, WorkflowDefTypeStep:
	default:
		return ErrValidation("WORKFLOW_TYPE_INVALID", fmt.Sprintf("unknown workflow definition type: %s", d.Type))
	}
	if d.Type == WorkflowDefTypePhase {
		if d.EntryPhase == "" {
			return ErrValidation("WORKFLOW_ENTRY_PHASE_REQUIRED", "phase workflow must declare entry_phase")
		}
		if _, ok := d.Phases[d.EntryPhase]; !ok {
			return ErrValidation("WORKFLOW_ENTRY_PHASE_UNKNOWN", fmt.Sprintf("entry_phase %q not defined in phases", d.EntryPhase))
		}
		for _, p := range d.Phases {
			for _, tr := range p.Transitions {
				if _, ok := d.Phases[tr.ToPhase]; !ok {
					return ErrValidation("WORKFLOW_TRANSITION_UNKNOWN", fmt.Sprintf("transition targets undefined phase %q", tr.ToPhase))
				}
			}
		}
	}
	return nil
}

// WorkflowState is the per-session activation record of a WorkflowDefinition.
// At most one is active per session; WorkflowName is locked at activation
// time (spec.md §3: changing the workflow mid-session requires clearing and
// re-setting it, never mutating WorkflowName in place).
type WorkflowState struct {
	SessionID         SessionID
	WorkflowName      string
	CurrentPhase      Phase
	PhaseEnteredAt    time.Time
	PhaseActionCount  int
	TotalActionCount  int
	Variables         map[string]any
	Artifacts         map[string]any
	ReflectionPending bool
	ContextInjected   bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewWorkflowState activates def against session at its entry phase.
func NewWorkflowState(sessionID SessionID, def *WorkflowDefinition) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		SessionID:      sessionID,
		WorkflowName:   def.Name,
		CurrentPhase:   def.EntryPhase,
		PhaseEnteredAt: now,
		Variables:      make(map[string]any),
		Artifacts:      make(map[string]any),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// EnterPhase transitions to a new phase, resetting the per-phase action
// counter and reflection flag. Callers are responsible for running the
// outgoing phase's on_exit and the incoming phase's on_enter actions around
// this call; EnterPhase itself only updates bookkeeping.
func (ws *WorkflowState) EnterPhase(phase Phase) {
	ws.CurrentPhase = phase
	ws.PhaseEnteredAt = time.Now()
	ws.PhaseActionCount = 0
	ws.ReflectionPending = false
	ws.UpdatedAt = time.Now()
}

// RecordAction increments both the per-phase and total tool-call counters.
// Called once per tool_call decision, regardless of the decision's result.
func (ws *WorkflowState) RecordAction() {
	ws.PhaseActionCount++
	ws.TotalActionCount++
	ws.UpdatedAt = time.Now()
}

// SetArtifact records a named artifact produced during the session's
// workflow activation (spec.md's `artifacts` template namespace).
func (ws *WorkflowState) SetArtifact(key string, value any) {
	if ws.Artifacts == nil {
		ws.Artifacts = make(map[string]any)
	}
	ws.Artifacts[key] = value
	ws.UpdatedAt = time.Now()
}

// SetVariable records a named workflow variable (the `workflow_state.variables`
// namespace the safe-expression evaluator and template engine read from).
func (ws *WorkflowState) SetVariable(key string, value any) {
	if ws.Variables == nil {
		ws.Variables = make(map[string]any)
	}
	ws.Variables[key] = value
	ws.UpdatedAt = time.Now()
}

// AuditEventType classifies a WorkflowAuditEntry.
type AuditEventType string

const (
	AuditEventToolCall   AuditEventType = "tool_call"
	AuditEventRuleEval   AuditEventType = "rule_eval"
	AuditEventTransition AuditEventType = "transition"
	AuditEventExitCheck  AuditEventType = "exit_check"
	AuditEventApproval   AuditEventType = "approval"
)

// AuditResult is the outcome recorded against an audit entry.
type AuditResult string

const (
	AuditResultAllow      AuditResult = "allow"
	AuditResultBlock      AuditResult = "block"
	AuditResultTransition AuditResult = "transition"
	AuditResultSkip       AuditResult = "skip"
	AuditResultMet        AuditResult = "met"
	AuditResultUnmet      AuditResult = "unmet"
	AuditResultApproved   AuditResult = "approved"
	AuditResultRejected   AuditResult = "rejected"
	AuditResultPending    AuditResult = "pending"
)

// WorkflowAuditEntry is one append-only row in a session's audit trail.
// Exactly one is written per tool-call decision (a testable property in
// spec.md §8); entries are strictly ordered by Timestamp with insertion
// order breaking ties.
type WorkflowAuditEntry struct {
	ID        int64
	SessionID SessionID
	Timestamp time.Time
	Phase     Phase
	EventType AuditEventType
	ToolName  string
	RuleID    string
	Condition string
	Result    AuditResult
	Reason    string
	Context   map[string]any
}

// Validate checks audit entry invariants before it is persisted.
func (e *WorkflowAuditEntry) Validate() error {
	if strings.TrimSpace(string(e.SessionID)) == "" {
		return ErrValidation("AUDIT_SESSION_REQUIRED", "audit entry requires a session id")
	}
	switch e.EventType {
	case AuditEventToolCall, AuditEventRuleEval, AuditEventTransition, AuditEventExitCheck, AuditEventApproval:
	default:
		return ErrValidation("AUDIT_EVENT_TYPE_INVALID", fmt.Sprintf("unknown audit event type: %s", e.EventType))
	}
	return nil
}
