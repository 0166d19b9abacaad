// Package task implements the TaskEngine (C3): the task graph, its
// readiness policy, the validate/expand loops, and JSONL sync.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
	"github.com/gobbyhq/gobby/internal/store"
)

// GitDiffSource is the narrow slice of core.GitClient validate_task needs to
// gather context: named separately so a project's *gitadapter.Client can be
// passed without task importing the adapter package, and so tests can fake
// it with a couple of strings.
type GitDiffSource interface {
	Diff(ctx context.Context, base, head string) (string, error)
	DiffFiles(ctx context.Context, base, head string) ([]string, error)
}

// ExternalValidator spawns a separate subagent to run validate_task's
// judgement, used when a caller sets use_external_validator. Implemented by
// the AgentOrchestrator (C6); left nil here falls back to the in-process
// LLMProvider path.
type ExternalValidator interface {
	Validate(ctx context.Context, t *core.Task, diff string, files []string) (passed bool, issues []string, err error)
}

// Engine owns the task graph for every project the Store tracks.
type Engine struct {
	store    *store.Store
	bus      *events.EventBus
	llm      core.LLMProvider
	git      map[core.ProjectID]GitDiffSource
	external ExternalValidator
	logger   *slog.Logger

	maxValidationFails int
	compactAfter       time.Duration

	exportMu sync.Mutex
	exportAt map[core.ProjectID]*time.Timer
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLLMProvider sets the provider validate_task/expand_task/compaction
// call through. Without one, those operations return ErrProvider.
func WithLLMProvider(p core.LLMProvider) Option {
	return func(e *Engine) { e.llm = p }
}

// WithExternalValidator wires a subagent-backed validator for
// use_external_validator requests.
func WithExternalValidator(v ExternalValidator) Option {
	return func(e *Engine) { e.external = v }
}

// WithGitSource registers the diff source validate_task uses for a project.
func WithGitSource(projectID core.ProjectID, g GitDiffSource) Option {
	return func(e *Engine) { e.git[projectID] = g }
}

// WithMaxValidationFails overrides core.DefaultMaxValidationFails.
func WithMaxValidationFails(n int) Option {
	return func(e *Engine) { e.maxValidationFails = n }
}

// WithCompactionAge overrides the default 30-day closed-task compaction age.
func WithCompactionAge(d time.Duration) Option {
	return func(e *Engine) { e.compactAfter = d }
}

// NewEngine builds a TaskEngine bound to st and bus.
func NewEngine(st *store.Store, bus *events.EventBus, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:              st,
		bus:                bus,
		git:                make(map[core.ProjectID]GitDiffSource),
		logger:             logger,
		maxValidationFails: core.DefaultMaxValidationFails,
		compactAfter:       30 * 24 * time.Hour,
		exportAt:           make(map[core.ProjectID]*time.Timer),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CreateTaskInput is create_task's argument set.
type CreateTaskInput struct {
	ProjectID          core.ProjectID
	Title              string
	Description        string
	Details            string
	TestStrategy       string
	Priority           core.TaskPriority
	Type               core.TaskType
	Labels             []string
	ValidationCriteria string
	ParentTaskID       *core.TaskID
	Blocks             []core.TaskID
	CreatedInSessionID *core.SessionID
}

// CreateTask inserts a new task, assigning seq_num and a short-hash id, and
// wiring any requested "blocks" edges — rejecting the whole call if any
// target is missing or would close a cycle (spec.md §4.3).
func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (*core.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, core.ErrValidation("TASK_TITLE_REQUIRED", "title is required")
	}

	for _, depID := range in.Blocks {
		if _, err := e.store.GetTask(ctx, depID); err != nil {
			return nil, core.ErrConstraint(core.CodeDAGCycle, fmt.Sprintf("blocks target %s does not exist", depID)).WithCause(err)
		}
	}

	existing, err := e.store.ListTasksByProject(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	seq := 1
	for _, t := range existing {
		if t.SeqNum >= seq {
			seq = t.SeqNum + 1
		}
	}

	priority := in.Priority
	if priority == 0 {
		priority = core.TaskPriorityMedium
	}
	taskType := in.Type
	if taskType == "" {
		taskType = core.TaskTypeTask
	}

	var t *core.Task
	for attempt := 0; attempt < 5; attempt++ {
		id := shortHashID(in.ProjectID, attempt)
		t = core.NewTask(id, in.ProjectID, seq, in.Title)
		t.Description = in.Description
		t.Details = in.Details
		t.TestStrategy = in.TestStrategy
		t.Priority = priority
		t.Type = taskType
		t.Labels = in.Labels
		t.ValidationCriteria = in.ValidationCriteria
		t.ParentTaskID = in.ParentTaskID
		t.CreatedInSessionID = in.CreatedInSessionID

		err = e.store.CreateTask(ctx, t)
		if err == nil {
			break
		}
		if !core.IsCategory(err, core.ErrCatConstraint) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	// blocks edges run the cycle check again inside AddDependency, but a
	// fresh task can never be on an existing path so this never rejects.
	for _, depID := range in.Blocks {
		dep := &core.TaskDependency{FromTaskID: t.ID, ToTaskID: depID, Type: core.DependencyBlocks, CreatedAt: time.Now()}
		if err := e.store.AddDependency(ctx, dep); err != nil {
			return nil, err
		}
	}

	parent := ""
	if t.ParentTaskID != nil {
		parent = string(*t.ParentTaskID)
	}
	e.bus.Publish(events.NewTaskCreatedEvent("", string(in.ProjectID), string(t.ID), t.Title, parent))
	e.scheduleExport(in.ProjectID)
	return t, nil
}

// AddDependency wires a dependency edge, rejecting self-references and, for
// DependencyBlocks, any edge that would close a cycle.
func (e *Engine) AddDependency(ctx context.Context, from, to core.TaskID, depType core.DependencyType) error {
	if from == to {
		return core.ErrConstraint(core.CodeDAGCycle, "a task cannot depend on itself")
	}
	dep := &core.TaskDependency{FromTaskID: from, ToTaskID: to, Type: depType, CreatedAt: time.Now()}
	if err := e.store.AddDependency(ctx, dep); err != nil {
		return err
	}
	t, err := e.store.GetTask(ctx, from)
	if err == nil {
		e.bus.Publish(events.NewTaskDependencyAddedEvent("", string(t.ProjectID), string(from), string(to), string(depType)))
		e.scheduleExport(t.ProjectID)
	}
	return nil
}

// ListReadyTasks returns the project's ready set (pending, no unmet
// "blocks" edge), ordered priority asc then created_at asc.
func (e *Engine) ListReadyTasks(ctx context.Context, projectID core.ProjectID) ([]*core.Task, error) {
	ready, err := e.store.ListReadyTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready, nil
}

// CloseTaskInput is close_task's argument set.
type CloseTaskInput struct {
	TaskID         core.TaskID
	SessionID      core.SessionID
	CommitSHA      string
	ChangesSummary string
	ForceComplete  bool
}

// CloseTaskResult reports what close_task actually did, since a validation
// failure leaves the task open rather than erroring the call.
type CloseTaskResult struct {
	Task             *core.Task
	WentToReview     bool
	ValidationPassed *bool
	ValidationIssues []string
}

// CloseTask implements spec.md §4.3 close_task: depth>0 callers without
// force_complete go to review; otherwise, if validation_criteria is set, the
// validation loop runs before the task is allowed to complete.
func (e *Engine) CloseTask(ctx context.Context, in CloseTaskInput) (*CloseTaskResult, error) {
	t, err := e.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	sess, err := e.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}

	if t.Status == core.TaskStatusPending {
		_ = t.Start()
	}

	reviewOnly := sess.AgentDepth > 0 && !in.ForceComplete
	if reviewOnly {
		if err := t.SubmitForReview(); err != nil {
			return nil, err
		}
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return nil, err
		}
		e.bus.Publish(events.NewTaskStatusChangedEvent("", string(t.ProjectID), string(t.ID), string(core.TaskStatusInProgress), string(core.TaskStatusReview)))
		e.scheduleExport(t.ProjectID)
		return &CloseTaskResult{Task: t, WentToReview: true}, nil
	}

	if t.ValidationCriteria != "" {
		result, err := e.ValidateTask(ctx, ValidateTaskInput{TaskID: t.ID})
		if err != nil {
			return nil, err
		}
		if !result.Passed {
			issues := result.Issues
			return &CloseTaskResult{Task: result.Task, ValidationPassed: boolPtr(false), ValidationIssues: issues}, nil
		}
		t = result.Task
	}

	if err := t.Close(in.SessionID, in.CommitSHA); err != nil {
		return nil, err
	}
	if in.ChangesSummary != "" {
		t.Summary = in.ChangesSummary
	}
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	e.bus.Publish(events.NewTaskClosedEvent("", string(t.ProjectID), string(t.ID)))
	e.scheduleExport(t.ProjectID)

	passed := t.ValidationCriteria != ""
	res := &CloseTaskResult{Task: t}
	if passed {
		res.ValidationPassed = boolPtr(true)
	}
	return res, nil
}

// ReopenTask implements spec.md §4.3 reopen_task: only from
// review|completed|failed, clears closure metadata, logs reason.
func (e *Engine) ReopenTask(ctx context.Context, taskID core.TaskID, reason string) (*core.Task, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := t.Reopen(); err != nil {
		return nil, err
	}
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	e.logger.Info("task reopened", "task_id", t.ID, "reason", reason)
	e.bus.Publish(events.NewTaskReopenedEvent("", string(t.ProjectID), string(t.ID), reason))
	e.scheduleExport(t.ProjectID)
	return t, nil
}

func boolPtr(b bool) *bool { return &b }
