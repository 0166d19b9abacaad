package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
	"github.com/gobbyhq/gobby/internal/logging"
	"github.com/gobbyhq/gobby/internal/store"
	"github.com/gobbyhq/gobby/internal/workflow/expr"
)

// approvalPendingVar is the WorkflowState.Variables key a require_approval
// rule sets while awaiting the session's next user message.
const approvalPendingVar = "__pending_approval"

var approvalKeywords = []string{"yes", "y", "approve", "approved", "ok", "okay", "lgtm", "go ahead", "do it", "proceed"}
var rejectionKeywords = []string{"no", "n", "deny", "denied", "stop", "cancel", "abort", "don't"}

// MatchApproval classifies a user's reply to a require_approval prompt.
// Matching is case-insensitive and anchored to the whole (trailing-
// punctuation-stripped) reply, not a bare prefix: "yes, but later" is not
// approval, even though it starts with "yes", because real content follows
// the keyword.
func MatchApproval(reply string) (approved, rejected bool) {
	t := strings.ToLower(strings.TrimSpace(reply))
	for len(t) > 0 && strings.ContainsRune(".!, ", rune(t[len(t)-1])) {
		t = t[:len(t)-1]
	}
	for _, kw := range approvalKeywords {
		if t == kw {
			return true, false
		}
	}
	for _, kw := range rejectionKeywords {
		if t == kw {
			return false, true
		}
	}
	return false, false
}

// ToolCallInput is the normalized shape of a tool_call hook event, the
// input to Engine.Decide.
type ToolCallInput struct {
	SessionID      core.SessionID
	ToolName       string
	Args           map[string]any
	SessionContext map[string]any // files_read, files_modified, errors, etc.
}

// Decision is the WorkflowEngine's answer to a tool call. It is always
// returned, never an error: spec.md §9 is explicit that "block" is a value,
// not a control-flow exception.
type Decision struct {
	Action  core.RuleAction
	Message string
	Context map[string]any
}

// MCPCaller lets the workflow engine's call_mcp_tool action reach the MCP
// surface without importing it directly (internal/mcp, in turn, depends on
// the engine for list_allowed_tools — this interface breaks the cycle).
type MCPCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// Engine is the per-project WorkflowEngine (C4): phase state machine,
// safe-expression rule evaluator, and on_enter/on_exit action runner.
type Engine struct {
	store     *store.Store
	loader    *Loader
	bus       *events.EventBus
	llm       core.LLMProvider
	webhooks  *events.WebhookDispatcher
	endpoints []events.WebhookEndpoint
	mcp       MCPCaller
	funcs     map[string]expr.Func
	logger    *logging.Logger

	locksMu sync.Mutex
	locks   map[core.SessionID]*sync.Mutex
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLLMProvider wires the LLMProvider call_llm/generate_summary/
// synthesize_title actions delegate to.
func WithLLMProvider(p core.LLMProvider) Option { return func(e *Engine) { e.llm = p } }

// WithWebhooks wires the webhook() action to a dispatcher and its
// configured endpoint set.
func WithWebhooks(d *events.WebhookDispatcher, endpoints []events.WebhookEndpoint) Option {
	return func(e *Engine) { e.webhooks = d; e.endpoints = endpoints }
}

// WithMCPCaller wires the call_mcp_tool() action to the MCP hub.
func WithMCPCaller(c MCPCaller) Option { return func(e *Engine) { e.mcp = c } }

// NewEngine builds a WorkflowEngine over st (Store), loader (workflow
// definitions), and bus (EventBus). logger defaults to a no-op logger if nil.
func NewEngine(st *store.Store, loader *Loader, bus *events.EventBus, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	e := &Engine{
		store:  st,
		loader: loader,
		bus:    bus,
		funcs:  expr.DefaultFuncs(),
		logger: logger,
		locks:  make(map[core.SessionID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) sessionLock(id core.SessionID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// Decide runs the full tool-call decision algorithm (spec.md §4.4 steps
// 1-7) for a session's active WorkflowState. Every code path returns a
// Decision; no error ever escapes, matching the engine's promise that a
// rule/action failure degrades to allow rather than propagating.
func (e *Engine) Decide(ctx context.Context, in ToolCallInput) Decision {
	lock := e.sessionLock(in.SessionID)
	lock.Lock()
	defer lock.Unlock()

	ws, err := e.store.GetWorkflowState(ctx, in.SessionID)
	if err != nil || ws == nil {
		// Step 1: no active phase workflow.
		return Decision{Action: core.RuleActionAllow}
	}

	def, ok := e.loader.Get(ws.WorkflowName)
	if !ok {
		e.logger.Warn("workflow definition not loaded, failing open", "workflow", ws.WorkflowName)
		return Decision{Action: core.RuleActionAllow}
	}
	phaseDef, ok := def.Phase(ws.CurrentPhase)
	if !ok {
		e.logger.Warn("workflow phase undefined, failing open", "workflow", ws.WorkflowName, "phase", ws.CurrentPhase)
		return Decision{Action: core.RuleActionAllow}
	}

	sess, _ := e.store.GetSession(ctx, in.SessionID)
	ac := &actionContext{engine: e, session: sess, state: ws, injected: map[string]any{}}
	env := e.buildEnv(in, ws)

	// Step 2: tool-filter check.
	if blocked, allowedList := toolBlocked(phaseDef, in.ToolName); blocked {
		msg := fmt.Sprintf("Tool '%s' not allowed in %s phase. Allowed: %s", in.ToolName, ws.CurrentPhase, strings.Join(allowedList, ", "))
		e.finish(ctx, ws, in.ToolName, core.AuditResultBlock, msg)
		return Decision{Action: core.RuleActionBlock, Message: msg}
	}

	// Step 3-4: rules, in declaration order.
	var warnings []string
ruleLoop:
	for _, rule := range phaseDef.Rules {
		matched, err := expr.EvalBool(rule.Condition, env, e.funcs)
		if err != nil {
			e.logger.Warn("rule condition failed to evaluate, skipping rule", "rule", rule.ID, "error", err)
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventRuleEval, in.ToolName, rule.ID, rule.Condition, core.AuditResultSkip, err.Error())
			continue
		}
		if !matched {
			continue
		}
		switch rule.Action {
		case core.RuleActionBlock:
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventRuleEval, in.ToolName, rule.ID, rule.Condition, core.AuditResultBlock, rule.Message)
			e.finish(ctx, ws, in.ToolName, core.AuditResultBlock, rule.Message)
			return Decision{Action: core.RuleActionBlock, Message: rule.Message}
		case core.RuleActionRequireApproval:
			ws.SetVariable(approvalPendingVar, rule.Message)
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventRuleEval, in.ToolName, rule.ID, rule.Condition, core.AuditResultPending, rule.Message)
			e.finish(ctx, ws, in.ToolName, core.AuditResultPending, rule.Message)
			return Decision{Action: core.RuleActionRequireApproval, Message: rule.Message}
		case core.RuleActionWarn:
			warnings = append(warnings, rule.Message)
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventRuleEval, in.ToolName, rule.ID, rule.Condition, core.AuditResultAllow, rule.Message)
		case core.RuleActionAllow:
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventRuleEval, in.ToolName, rule.ID, rule.Condition, core.AuditResultAllow, rule.Message)
			break ruleLoop
		}
	}

	// Step 5: transitions, first match wins.
	for _, tr := range phaseDef.Transitions {
		ok, err := expr.EvalBool(tr.Condition, env, e.funcs)
		if err != nil {
			e.logger.Warn("transition condition failed to evaluate", "error", err)
			continue
		}
		if !ok {
			continue
		}
		e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventTransition, in.ToolName, "", tr.Condition, core.AuditResultTransition, "")
		e.transitionTo(ctx, ac, def, phaseDef, tr.ToPhase, env)
		e.finish(ctx, ws, in.ToolName, core.AuditResultAllow, strings.Join(warnings, "; "))
		return Decision{Action: core.RuleActionAllow, Message: strings.Join(warnings, "; "), Context: ac.injected}
	}

	// Step 6: exit conditions (AND). On met, auto-advance.
	if len(phaseDef.ExitConditions) > 0 {
		met := true
		for _, cond := range phaseDef.ExitConditions {
			ok, err := expr.EvalBool(cond, env, e.funcs)
			if err != nil {
				e.logger.Warn("exit condition failed to evaluate, not advancing", "error", err)
				met = false
				break
			}
			if !ok {
				met = false
				break
			}
		}
		if met {
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventExitCheck, in.ToolName, "", strings.Join(phaseDef.ExitConditions, " && "), core.AuditResultMet, "")
			if next, ok := nextPhaseInOrder(def, ws.CurrentPhase); ok {
				e.transitionTo(ctx, ac, def, phaseDef, next, env)
			} else {
				e.markComplete(ctx, ac)
			}
		} else {
			e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventExitCheck, in.ToolName, "", strings.Join(phaseDef.ExitConditions, " && "), core.AuditResultUnmet, "")
		}
	}

	e.finish(ctx, ws, in.ToolName, core.AuditResultAllow, strings.Join(warnings, "; "))
	return Decision{Action: core.RuleActionAllow, Message: strings.Join(warnings, "; "), Context: ac.injected}
}

// finish bumps the action counters, persists the WorkflowState, and writes
// the per-decision audit entry (step 7). Storage failures are logged, not
// propagated: an audit/persist failure must never turn an allow into a
// block.
func (e *Engine) finish(ctx context.Context, ws *core.WorkflowState, tool string, result core.AuditResult, reason string) {
	ws.RecordAction()
	if err := e.store.SaveWorkflowState(ctx, ws); err != nil {
		e.logger.Warn("failed to persist workflow state", "session", ws.SessionID, "error", err)
	}
	e.audit(ctx, ws.SessionID, ws.CurrentPhase, core.AuditEventToolCall, tool, "", "", result, reason)
}

func (e *Engine) audit(ctx context.Context, sessionID core.SessionID, phase core.Phase, eventType core.AuditEventType, tool, ruleID, condition string, result core.AuditResult, reason string) {
	entry := &core.WorkflowAuditEntry{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Phase:     phase,
		EventType: eventType,
		ToolName:  tool,
		RuleID:    ruleID,
		Condition: condition,
		Result:    result,
		Reason:    reason,
	}
	if err := entry.Validate(); err != nil {
		e.logger.Warn("invalid audit entry, dropping", "error", err)
		return
	}
	if err := e.store.AppendAuditEntry(ctx, entry); err != nil {
		e.logger.Warn("failed to append audit entry", "error", err)
	}
}

func (e *Engine) transitionTo(ctx context.Context, ac *actionContext, def *core.WorkflowDefinition, from *core.PhaseDefinition, to core.Phase, env expr.Env) {
	e.runActions(ctx, ac, from.OnExit, env)
	prev := ac.state.CurrentPhase
	ac.state.EnterPhase(to)
	if e.bus != nil {
		e.bus.Publish(events.NewWorkflowPhaseEnteredEvent(string(ac.state.SessionID), projectIDOf(ac.session), ac.state.WorkflowName, string(prev), string(to)))
	}
	if nextDef, ok := def.Phase(to); ok {
		nextEnv := e.buildEnv(ToolCallInput{SessionID: ac.state.SessionID}, ac.state)
		e.runActions(ctx, ac, nextDef.OnEnter, nextEnv)
	}
}

func (e *Engine) markComplete(ctx context.Context, ac *actionContext) {
	if e.bus != nil {
		e.bus.Publish(events.NewWorkflowCompletedEvent(string(ac.state.SessionID), projectIDOf(ac.session), ac.state.WorkflowName))
	}
}

func projectIDOf(s *core.Session) string {
	if s == nil {
		return ""
	}
	return string(s.ProjectID)
}

// buildEnv constructs the restricted namespace every rule/transition/
// exit_condition/template expression evaluates against (spec.md §4.4).
func (e *Engine) buildEnv(in ToolCallInput, ws *core.WorkflowState) expr.Env {
	return expr.Env{
		"tool":               map[string]any{"name": in.ToolName},
		"args":               in.Args,
		"session":            in.SessionContext,
		"phase_action_count": float64(ws.PhaseActionCount),
		"workflow_state": map[string]any{
			"variables": map[string]any(ws.Variables),
			"phase":     string(ws.CurrentPhase),
		},
		"artifacts": map[string]any(ws.Artifacts),
	}
}

// toolBlocked implements step 2: a tool is blocked if it's in blocked_tools,
// or if allowed_tools is a non-empty allow-list that omits it.
func toolBlocked(p *core.PhaseDefinition, tool string) (bool, []string) {
	for _, t := range p.BlockedTools {
		if t == tool {
			return true, p.AllowedTools
		}
	}
	if len(p.AllowedTools) == 0 {
		return false, nil
	}
	for _, t := range p.AllowedTools {
		if t == tool {
			return false, nil
		}
	}
	return true, p.AllowedTools
}

// nextPhaseInOrder returns the phase declared immediately after current in
// the workflow's YAML, per spec.md §4.4 step 6 ("auto-advance to the next
// phase in declaration order").
func nextPhaseInOrder(def *core.WorkflowDefinition, current core.Phase) (core.Phase, bool) {
	for i, p := range def.PhaseOrder {
		if p == current && i+1 < len(def.PhaseOrder) {
			return def.PhaseOrder[i+1], true
		}
	}
	return "", false
}

// ListAllowedTools is the single authority the MCP surface queries
// (spec.md §4.4/§4.7) before listing or invoking a tool on behalf of a
// session, so a listing never shows a tool the current phase would block.
// server is currently advisory (all of Gobby's MCP servers share one tool
// filter); it is accepted for forward compatibility with per-server policy.
func (e *Engine) ListAllowedTools(ctx context.Context, sessionID core.SessionID, server string) ([]string, error) {
	ws, err := e.store.GetWorkflowState(ctx, sessionID)
	if err != nil || ws == nil {
		return nil, nil // no active workflow: no restriction, caller lists everything
	}
	def, ok := e.loader.Get(ws.WorkflowName)
	if !ok {
		return nil, nil
	}
	phaseDef, ok := def.Phase(ws.CurrentPhase)
	if !ok {
		return nil, nil
	}
	if len(phaseDef.AllowedTools) == 0 && len(phaseDef.BlockedTools) == 0 {
		return nil, nil
	}
	return phaseDef.AllowedTools, nil
}

// Activate creates and persists a fresh WorkflowState at def's entry phase
// for sessionID, returning core.CodeLockHeld-flavored ErrConstraint if one
// is already active (spec.md §8's "workflow activation idempotence" names
// the duplicate-activation response as AlreadyActive).
func (e *Engine) Activate(ctx context.Context, sessionID core.SessionID, workflowName string) (*core.WorkflowState, error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.store.GetWorkflowState(ctx, sessionID)
	if err == nil && existing != nil {
		if existing.WorkflowName == workflowName {
			return existing, core.ErrConstraint(core.CodeLockHeld, "AlreadyActive").
				WithDetail("session_id", string(sessionID)).
				WithDetail("workflow", workflowName)
		}
		return nil, core.ErrConstraint(core.CodeLockHeld, "a different workflow is already active for this session").
			WithDetail("active_workflow", existing.WorkflowName)
	}

	def, ok := e.loader.Get(workflowName)
	if !ok {
		return nil, core.ErrNotFound("workflow_definition", workflowName)
	}
	ws := core.NewWorkflowState(sessionID, def)
	if err := e.store.SaveWorkflowState(ctx, ws); err != nil {
		return nil, err
	}
	if e.bus != nil {
		e.bus.Publish(events.NewWorkflowStartedEvent(string(sessionID), "", workflowName, string(def.EntryPhase)))
	}
	sess, _ := e.store.GetSession(ctx, sessionID)
	ac := &actionContext{engine: e, session: sess, state: ws, injected: map[string]any{}}
	entryDef, _ := def.Phase(def.EntryPhase)
	if entryDef != nil {
		env := e.buildEnv(ToolCallInput{SessionID: sessionID}, ws)
		e.runActions(ctx, ac, entryDef.OnEnter, env)
		_ = e.store.SaveWorkflowState(ctx, ws)
	}
	return ws, nil
}

// Clear deactivates sessionID's workflow, if any.
func (e *Engine) Clear(ctx context.Context, sessionID core.SessionID) error {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return e.store.ClearWorkflowState(ctx, sessionID)
}

// Resolve matches reply against a pending require_approval for sessionID.
// It returns (handled=false) if no approval is pending.
func (e *Engine) ResolveApproval(ctx context.Context, sessionID core.SessionID, reply string) (handled, approved bool, err error) {
	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ws, err := e.store.GetWorkflowState(ctx, sessionID)
	if err != nil || ws == nil {
		return false, false, err
	}
	prompt, pending := ws.Variables[approvalPendingVar]
	if !pending || prompt == nil {
		return false, false, nil
	}
	isApproved, isRejected := MatchApproval(reply)
	if !isApproved && !isRejected {
		return false, false, nil
	}
	delete(ws.Variables, approvalPendingVar)
	ws.UpdatedAt = time.Now()
	if err := e.store.SaveWorkflowState(ctx, ws); err != nil {
		return true, isApproved, err
	}
	result := core.AuditResultRejected
	if isApproved {
		result = core.AuditResultApproved
	}
	e.audit(ctx, sessionID, ws.CurrentPhase, core.AuditEventApproval, "", "", "", result, reply)
	return true, isApproved, nil
}
