package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
	"github.com/gobbyhq/gobby/internal/workflow/expr"
)

// actionContext carries the per-decision state an on_enter/on_exit action
// reads and mutates: the WorkflowState being updated, the owning session
// (for project-scoped lookups), and the accumulated inject_context/
// inject_message results returned to the caller as Decision.Context.
type actionContext struct {
	engine   *Engine
	session  *core.Session
	state    *core.WorkflowState
	injected map[string]any
}

// runActions executes each on_enter/on_exit/lifecycle action string in
// order. A single action raising is logged and isolated (spec.md §4.4
// failure semantics): one bad action never stops the rest from running,
// and never turns a decision into a block.
func (e *Engine) runActions(ctx context.Context, ac *actionContext, specs []string, env expr.Env) {
	for _, spec := range specs {
		name, args, err := expr.ParseCall(spec)
		if err != nil {
			e.logger.Warn("malformed workflow action, skipping", "action", spec, "error", err)
			continue
		}
		fn, ok := actionTable[name]
		if !ok {
			e.logger.Warn("unknown workflow action, skipping", "action", name)
			continue
		}
		if err := fn(ctx, e, ac, env, args); err != nil {
			e.logger.Warn("workflow action failed, skipping", "action", name, "error", err)
		}
	}
}

type actionFunc func(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error

// argAsKeyword resolves an action argument as a literal keyword: a bare
// name (`source`) or a quoted string literal (`"source"`) are both taken
// verbatim; anything else is evaluated against env and stringified. This
// is the convention the action mini-language uses for source/key-style
// arguments, as opposed to value arguments that should evaluate dynamically.
func argAsKeyword(e *Engine, env expr.Env, n expr.Node) string {
	if name, ok := expr.Name(n); ok {
		return name
	}
	if lit, ok := expr.Literal(n); ok {
		if s, ok := lit.(string); ok {
			return s
		}
	}
	v, err := expr.Eval(n, env, e.funcs)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// argAsValue evaluates an action argument dynamically: bare names resolve
// through env (so `increment_variable(retries, 1)`'s second argument reads
// as a number, not the literal word "1" — though arithmetic arguments are
// almost always literals in practice, this keeps the door open for
// `set_variable(key, workflow_state.variables.other)`-style copies).
func argAsValue(e *Engine, env expr.Env, n expr.Node) (any, error) {
	if name, ok := expr.Name(n); ok {
		if v, present := env[name]; present {
			return v, nil
		}
		return name, nil
	}
	return expr.Eval(n, env, e.funcs)
}

func argAt(args []expr.Node, i int) (expr.Node, bool) {
	if i < 0 || i >= len(args) {
		return nil, false
	}
	return args[i], true
}

var actionTable = map[string]actionFunc{
	"inject_context":      actionInjectContext,
	"inject_message":      actionInjectMessage,
	"capture_artifact":    actionCaptureArtifact,
	"set_variable":        actionSetVariable,
	"increment_variable":  actionIncrementVariable,
	"call_llm":            actionCallLLM,
	"generate_summary":    actionGenerateSummary,
	"synthesize_title":    actionSynthesizeTitle,
	"write_todos":         actionWriteTodos,
	"mark_todo_complete":  actionMarkTodoComplete,
	"persist_tasks":       actionPersistTasks,
	"call_mcp_tool":       actionCallMCPTool,
	"webhook":             actionWebhook,
	"find_parent_session": actionFindParentSession,
	"restore_context":     actionRestoreContext,
	"mark_session_status": actionMarkSessionStatus,
	"switch_mode":         actionSwitchMode,
}

func actionInjectContext(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	for _, a := range args {
		source := argAsKeyword(e, env, a)
		val, err := e.resolveContextSource(ctx, ac, source)
		if err != nil {
			return fmt.Errorf("inject_context(%s): %w", source, err)
		}
		ac.injected[source] = val
	}
	return nil
}

func (e *Engine) resolveContextSource(ctx context.Context, ac *actionContext, source string) (any, error) {
	switch source {
	case "previous_session_summary":
		if ac.session == nil || ac.session.ParentSessionID == nil {
			return nil, nil
		}
		parent, err := e.store.GetSession(ctx, *ac.session.ParentSessionID)
		if err != nil {
			return nil, nil
		}
		return parent.SummaryMarkdown, nil
	case "handoff":
		if ac.session == nil {
			return nil, nil
		}
		return ac.session.SummaryMarkdown, nil
	case "artifacts":
		return map[string]any(ac.state.Artifacts), nil
	case "observations":
		return ac.state.Variables["observations"], nil
	case "workflow_state":
		return map[string]any{
			"phase":     string(ac.state.CurrentPhase),
			"variables": map[string]any(ac.state.Variables),
		}, nil
	case "skills":
		if ac.session == nil {
			return nil, nil
		}
		skills, err := e.store.ListSkills(ctx, ac.session.ProjectID)
		if err != nil {
			return nil, err
		}
		return skills, nil
	case "task_context":
		taskID, _ := ac.state.Variables["task_id"].(string)
		if taskID == "" {
			return nil, nil
		}
		return e.store.GetTask(ctx, core.TaskID(taskID))
	case "memories":
		if ac.session == nil {
			return nil, nil
		}
		memories, err := e.store.ListMemories(ctx, ac.session.ProjectID)
		if err != nil {
			return nil, err
		}
		return memories, nil
	default:
		return nil, fmt.Errorf("unknown inject_context source %q", source)
	}
}

func actionInjectMessage(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	node, ok := argAt(args, 0)
	if !ok {
		return fmt.Errorf("inject_message requires a template argument")
	}
	tmpl := argAsKeyword(e, env, node)
	templateEnv := expr.Env{}
	for k, v := range env {
		templateEnv[k] = v
	}
	templateEnv["artifacts"] = map[string]any(ac.state.Artifacts)
	rendered, err := RenderTemplate(tmpl, templateEnv, e.funcs)
	if err != nil {
		return err
	}
	ac.injected["message"] = rendered
	return nil
}

func actionCaptureArtifact(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	patternNode, ok1 := argAt(args, 0)
	asNode, ok2 := argAt(args, 1)
	if !ok1 || !ok2 {
		return fmt.Errorf("capture_artifact requires (pattern, as)")
	}
	pattern := argAsKeyword(e, env, patternNode)
	as := argAsKeyword(e, env, asNode)
	ac.state.SetArtifact(as, pattern)
	return nil
}

func actionSetVariable(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	keyNode, ok1 := argAt(args, 0)
	valNode, ok2 := argAt(args, 1)
	if !ok1 || !ok2 {
		return fmt.Errorf("set_variable requires (key, value)")
	}
	key := argAsKeyword(e, env, keyNode)
	val, err := argAsValue(e, env, valNode)
	if err != nil {
		return err
	}
	ac.state.SetVariable(key, val)
	return nil
}

func actionIncrementVariable(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	keyNode, ok := argAt(args, 0)
	if !ok {
		return fmt.Errorf("increment_variable requires a key")
	}
	key := argAsKeyword(e, env, keyNode)
	amount := 1.0
	if amtNode, ok := argAt(args, 1); ok {
		v, err := argAsValue(e, env, amtNode)
		if err == nil {
			if f, ok := v.(float64); ok {
				amount = f
			}
		}
	}
	current, _ := ac.state.Variables[key].(float64)
	ac.state.SetVariable(key, current+amount)
	return nil
}

func actionCallLLM(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if e.llm == nil {
		return fmt.Errorf("no LLMProvider configured")
	}
	promptNode, ok1 := argAt(args, 0)
	outputAsNode, ok2 := argAt(args, 1)
	if !ok1 {
		return fmt.Errorf("call_llm requires a prompt")
	}
	prompt := argAsKeyword(e, env, promptNode)
	rendered, err := RenderTemplate(prompt, env, e.funcs)
	if err != nil {
		return err
	}
	result, err := e.llm.Complete(ctx, core.CompletionRequest{
		Messages: []core.ChatMessage{{Role: "user", Content: rendered}},
	})
	if err != nil {
		return err
	}
	outputAs := "llm_output"
	if ok2 {
		outputAs = argAsKeyword(e, env, outputAsNode)
	}
	ac.state.SetVariable(outputAs, result.Text)
	return nil
}

func actionGenerateSummary(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if e.llm == nil || ac.session == nil {
		return nil
	}
	result, err := e.llm.Complete(ctx, core.CompletionRequest{
		Messages: []core.ChatMessage{{Role: "user", Content: "Summarize this session's work in two or three sentences for handoff to a future session."}},
	})
	if err != nil {
		return err
	}
	ac.session.SummaryMarkdown = result.Text
	return e.store.UpdateSession(ctx, ac.session)
}

func actionSynthesizeTitle(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if e.llm == nil {
		return nil
	}
	result, err := e.llm.Complete(ctx, core.CompletionRequest{
		Messages: []core.ChatMessage{{Role: "user", Content: "Produce a short title (under 8 words) for this session's work."}},
	})
	if err != nil {
		return err
	}
	ac.state.SetVariable("title", strings.TrimSpace(result.Text))
	return nil
}

func actionWriteTodos(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	var todos []string
	for _, a := range args {
		todos = append(todos, argAsKeyword(e, env, a))
	}
	ac.state.SetVariable("todos", todos)
	return nil
}

func actionMarkTodoComplete(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	node, ok := argAt(args, 0)
	if !ok {
		return fmt.Errorf("mark_todo_complete requires an index or title")
	}
	target := argAsKeyword(e, env, node)
	todos, _ := ac.state.Variables["todos"].([]string)
	done, _ := ac.state.Variables["todos_done"].([]string)
	for _, t := range todos {
		if t == target {
			done = append(done, t)
		}
	}
	ac.state.SetVariable("todos_done", done)
	return nil
}

func actionPersistTasks(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if ac.session == nil {
		return fmt.Errorf("persist_tasks requires an active session")
	}
	sourceNode, ok := argAt(args, 0)
	if !ok {
		return fmt.Errorf("persist_tasks requires a source")
	}
	source := argAsKeyword(e, env, sourceNode)
	raw, _ := ac.state.Variables[source].([]any)
	linkToSession := true
	if n, ok := argAt(args, 2); ok {
		if v, err := argAsValue(e, env, n); err == nil {
			if b, ok := v.(bool); ok {
				linkToSession = b
			}
		}
	}
	existing, err := e.store.ListTasksByProject(ctx, ac.session.ProjectID)
	if err != nil {
		return err
	}
	seq := 0
	for _, t := range existing {
		if t.SeqNum > seq {
			seq = t.SeqNum
		}
	}
	for _, item := range raw {
		title, _ := item.(string)
		if title == "" {
			continue
		}
		seq++
		task := core.NewTask(generateTaskID(ac.session.ProjectID, seq), ac.session.ProjectID, seq, title)
		if linkToSession {
			sid := ac.session.ID
			task.CreatedInSessionID = &sid
		}
		if err := e.store.CreateTask(ctx, task); err != nil {
			e.logger.Warn("persist_tasks: failed to create task", "title", title, "error", err)
			continue
		}
		if e.bus != nil {
			e.bus.Publish(events.NewTaskCreatedEvent(string(ac.session.ID), string(ac.session.ProjectID), string(task.ID), task.Title, ""))
		}
	}
	return nil
}

func generateTaskID(projectID core.ProjectID, seq int) core.TaskID {
	return core.TaskID(fmt.Sprintf("%s-%d-%d", projectID, seq, time.Now().UnixNano()%100000))
}

func actionCallMCPTool(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if e.mcp == nil {
		// TODO: wire once internal/mcp's Hub implements workflow.MCPCaller.
		return fmt.Errorf("no MCP caller configured")
	}
	serverNode, ok1 := argAt(args, 0)
	toolNode, ok2 := argAt(args, 1)
	if !ok1 || !ok2 {
		return fmt.Errorf("call_mcp_tool requires (server, tool, args?)")
	}
	server := argAsKeyword(e, env, serverNode)
	tool := argAsKeyword(e, env, toolNode)
	var callArgs map[string]any
	if argsNode, ok := argAt(args, 2); ok {
		v, err := argAsValue(e, env, argsNode)
		if err == nil {
			callArgs, _ = v.(map[string]any)
		}
	}
	result, err := e.mcp.CallTool(ctx, server, tool, callArgs)
	if err != nil {
		return err
	}
	ac.injected[fmt.Sprintf("%s.%s", server, tool)] = result
	return nil
}

func actionWebhook(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if e.webhooks == nil {
		return nil
	}
	urlNode, ok1 := argAt(args, 0)
	eventNode, ok2 := argAt(args, 1)
	if !ok1 || !ok2 {
		return fmt.Errorf("webhook requires (url, event, can_block?, headers?)")
	}
	url := argAsKeyword(e, env, urlNode)
	eventName := argAsKeyword(e, env, eventNode)
	canBlock := false
	if n, ok := argAt(args, 2); ok {
		if v, err := argAsValue(e, env, n); err == nil {
			if b, ok := v.(bool); ok {
				canBlock = b
			}
		}
	}
	ep := events.WebhookEndpoint{Name: eventName, URL: url, EventTypes: []string{eventName}, CanBlock: canBlock, Timeout: 5 * time.Second}
	ev := events.NewBaseEvent(eventName, string(ac.state.SessionID), projectIDOf(ac.session))
	veto := e.webhooks.Dispatch(ctx, []events.WebhookEndpoint{ep}, ev)
	if veto != nil && veto.Decision == "deny" {
		return fmt.Errorf("webhook %s vetoed: %s", eventName, veto.Reason)
	}
	return nil
}

func actionFindParentSession(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if ac.session == nil || ac.session.ParentSessionID == nil {
		return nil
	}
	parent, err := e.store.GetSession(ctx, *ac.session.ParentSessionID)
	if err != nil {
		return err
	}
	ac.injected["parent_session"] = parent
	return nil
}

func actionRestoreContext(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	ac.injected["artifacts"] = map[string]any(ac.state.Artifacts)
	ac.injected["variables"] = map[string]any(ac.state.Variables)
	return nil
}

func actionMarkSessionStatus(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	if ac.session == nil {
		return fmt.Errorf("mark_session_status requires an active session")
	}
	node, ok := argAt(args, 0)
	if !ok {
		return fmt.Errorf("mark_session_status requires a status")
	}
	status := argAsKeyword(e, env, node)
	ac.session.Status = core.SessionStatus(status)
	return e.store.UpdateSession(ctx, ac.session)
}

func actionSwitchMode(ctx context.Context, e *Engine, ac *actionContext, env expr.Env, args []expr.Node) error {
	node, ok := argAt(args, 0)
	if !ok {
		return fmt.Errorf("switch_mode requires a mode")
	}
	ac.state.SetVariable("mode", argAsKeyword(e, env, node))
	return nil
}
