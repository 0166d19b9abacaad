package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
	"github.com/gobbyhq/gobby/internal/store"
	"github.com/gobbyhq/gobby/internal/workflow"
)

// pluginPriorityThreshold is the boundary spec.md §4.5 draws between
// pre-plugin and post-plugin handlers: < 50 runs before core handling,
// >= 50 runs after and observes only.
const pluginPriorityThreshold = 50

// Dispatcher is the single entry point every CLI hook event passes
// through: pre-plugin handlers, core handling (session resolution,
// WorkflowEngine decision), post-plugin handlers, then an EventBus
// broadcast (spec.md §4.5).
type Dispatcher struct {
	store    *store.Store
	bus      *events.EventBus
	workflow *workflow.Engine
	logger   *slog.Logger

	mu              sync.RWMutex
	sources         []core.HookSource
	defaultWorkflow string
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithDefaultWorkflow auto-activates the named workflow for any session
// that reaches session_start without one already active.
func WithDefaultWorkflow(name string) Option {
	return func(d *Dispatcher) { d.defaultWorkflow = name }
}

// NewDispatcher builds a Dispatcher bound to st/bus/wf.
func NewDispatcher(st *store.Store, bus *events.EventBus, wf *workflow.Engine, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{store: st, bus: bus, workflow: wf, logger: logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterSource adds a plugin/built-in HookSource to the pipeline. Sources
// are re-sorted by priority on every registration so call order doesn't
// matter.
func (d *Dispatcher) RegisterSource(s core.HookSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources = append(d.sources, s)
	sort.SliceStable(d.sources, func(i, j int) bool { return d.sources[i].Priority() < d.sources[j].Priority() })
}

// Dispatch runs the full pipeline for one HookEvent and returns the wire
// response. It never returns an error to the caller — every failure mode is
// fail-open per spec.md §4.5/§7, except an explicit UserBlocked from a
// pre-plugin handler, which short-circuits as deny.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.HookEvent, cwd string) Response {
	d.mu.RLock()
	sources := append([]core.HookSource(nil), d.sources...)
	d.mu.RUnlock()

	for _, s := range sources {
		if s.Priority() >= pluginPriorityThreshold {
			continue
		}
		dec, err := d.runSource(ctx, s, event)
		if err != nil {
			if de, ok := err.(*core.DomainError); ok && de.Category == core.ErrCatUserBlocked {
				return responseFor(core.RuleActionBlock, de.Message, nil)
			}
			d.logger.Error("pre-plugin hook source failed", "source", s.Name(), "error", err)
			continue
		}
		if dec.Action == core.RuleActionBlock {
			d.publish(event, responseFor(dec.Action, dec.Reason, dec.Context))
			return responseFor(dec.Action, dec.Reason, dec.Context)
		}
	}

	resp := d.core(ctx, event, cwd)

	for _, s := range sources {
		if s.Priority() < pluginPriorityThreshold {
			continue
		}
		if _, err := d.runSource(ctx, s, event); err != nil {
			d.logger.Error("post-plugin hook source failed", "source", s.Name(), "error", err)
		}
	}

	d.publish(event, resp)
	return resp
}

// runSource invokes a single HookSource, recovering a panic into an error so
// one misbehaving plugin can never take the dispatcher down.
func (d *Dispatcher) runSource(ctx context.Context, s core.HookSource, event core.HookEvent) (dec core.HookDecision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook source %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Handle(ctx, event)
}

// core implements spec.md §4.5's core handling: resolve/create the session,
// update counters, and delegate to the WorkflowEngine for the decision and
// any context injection. It never returns an error — storage/workflow
// failures log and fail open to allow.
func (d *Dispatcher) core(ctx context.Context, event core.HookEvent, cwd string) Response {
	switch event.Type {
	case EventSessionStart:
		return d.handleSessionStart(ctx, event, cwd)
	case EventSessionEnd:
		return d.handleSessionEnd(ctx, event)
	case EventToolCall:
		return d.handleToolCall(ctx, event)
	case EventPromptSubmit:
		return d.handlePromptSubmit(ctx, event)
	default:
		// tool_result, before_agent, and anything unrecognized: observational.
		return Response{Decision: "allow"}
	}
}

func (d *Dispatcher) handleSessionStart(ctx context.Context, event core.HookEvent, cwd string) Response {
	proj, err := resolveProject(ctx, d.store, cwd)
	if err != nil {
		d.logger.Error("session_start project resolution failed", "error", err)
		return Response{Decision: "allow"}
	}

	sess, err := d.store.GetSession(ctx, event.SessionID)
	if err != nil && !core.IsCategory(err, core.ErrCatNotFound) {
		d.logger.Error("session_start session lookup failed", "error", err)
		return Response{Decision: "allow"}
	}
	if sess == nil {
		seq, seqErr := d.nextSessionSeq(ctx, proj.ID)
		if seqErr != nil {
			d.logger.Error("session_start seq_num resolution failed", "error", seqErr)
			return Response{Decision: "allow"}
		}
		source := hookSourceToSessionSource(event.Source)
		sess = core.NewSession(event.SessionID, proj.ID, source, seq)
		if err := d.store.CreateSession(ctx, sess); err != nil {
			d.logger.Error("session_start session creation failed", "error", err)
			return Response{Decision: "allow"}
		}
		d.bus.Publish(events.NewSessionStartedEvent(string(sess.ID), string(proj.ID), ""))

		if d.workflow != nil && d.defaultWorkflow != "" {
			if _, err := d.workflow.Activate(ctx, sess.ID, d.defaultWorkflow); err != nil {
				d.logger.Warn("default workflow activation failed", "error", err)
			}
		}
	}

	return Response{
		Decision:      "allow",
		InjectContext: map[string]any{"session_ref": sessionRef(sess.SeqNum)},
	}
}

func (d *Dispatcher) handleSessionEnd(ctx context.Context, event core.HookEvent) Response {
	sess, err := d.store.GetSession(ctx, event.SessionID)
	if err != nil {
		return Response{Decision: "allow"}
	}
	if err := sess.MarkExpired(); err != nil {
		d.logger.Warn("session_end mark expired failed", "error", err)
		return Response{Decision: "allow"}
	}
	if err := d.store.UpdateSession(ctx, sess); err != nil {
		d.logger.Error("session_end persist failed", "error", err)
	}
	return Response{Decision: "allow"}
}

func (d *Dispatcher) handleToolCall(ctx context.Context, event core.HookEvent) Response {
	if d.workflow == nil {
		return Response{Decision: "allow"}
	}
	dec := d.workflow.Decide(ctx, workflow.ToolCallInput{
		SessionID: event.SessionID,
		ToolName:  event.ToolName,
		Args:      event.Args,
	})
	return responseFor(dec.Action, dec.Message, dec.Context)
}

func (d *Dispatcher) handlePromptSubmit(ctx context.Context, event core.HookEvent) Response {
	if d.workflow == nil {
		return Response{Decision: "allow"}
	}
	prompt, _ := event.Args["prompt"].(string)
	if prompt == "" {
		return Response{Decision: "allow"}
	}
	handled, approved, err := d.workflow.ResolveApproval(ctx, event.SessionID, prompt)
	if err != nil {
		d.logger.Error("prompt_submit approval resolution failed", "error", err)
		return Response{Decision: "allow"}
	}
	if !handled {
		return Response{Decision: "allow"}
	}
	if approved {
		return Response{Decision: "allow", Message: "approved"}
	}
	return Response{Decision: "deny", Message: "rejected"}
}

func (d *Dispatcher) nextSessionSeq(ctx context.Context, projectID core.ProjectID) (int, error) {
	sessions, err := d.store.ListSessionsByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	seq := 1
	for _, s := range sessions {
		if s.SeqNum >= seq {
			seq = s.SeqNum + 1
		}
	}
	return seq, nil
}

func (d *Dispatcher) publish(event core.HookEvent, resp Response) {
	d.bus.Publish(events.NewLogEvent(string(event.SessionID), "", "info", "hook dispatched", map[string]any{
		"hook_event": event.Type,
		"source":     event.Source,
		"tool":       event.ToolName,
		"decision":   resp.Decision,
	}))
}

func hookSourceToSessionSource(source string) core.SessionSource {
	switch source {
	case SourceClaude, SourceGemini, SourceCodex:
		return core.SessionSourceCLI
	default:
		return core.SessionSourceCLI
	}
}
