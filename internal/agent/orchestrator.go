package agent

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	gitadapter "github.com/gobbyhq/gobby/internal/adapters/git"
	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
	"github.com/gobbyhq/gobby/internal/store"
	"github.com/gobbyhq/gobby/internal/task"
	"github.com/gobbyhq/gobby/internal/workflow"
)

// Orchestrator is the AgentOrchestrator (C6): it implements spawn_agent's
// 8-step pipeline (spec.md §4.6), cross-agent messaging, blocking waits,
// kill, and merge resolution, tying together the Definition/IsolationHandler
// /Spawner/registry pieces built alongside it in this package.
type Orchestrator struct {
	store    *store.Store
	bus      *events.EventBus
	workflow *workflow.Engine
	llm      core.LLMProvider
	defs     *DefinitionLoader
	registry *registry
	logger   *slog.Logger

	maxDepth int
	cloneDir string

	spawners  map[core.SpawnMode]core.Spawner
	gitMu     sync.Mutex
	gitByRepo map[core.ProjectID]*gitadapter.Client
}

// Option configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

func WithMaxAgentDepth(depth int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxDepth = depth }
}

func WithCloneDir(dir string) OrchestratorOption {
	return func(o *Orchestrator) { o.cloneDir = dir }
}

func WithLLMProvider(llm core.LLMProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.llm = llm }
}

// NewOrchestrator builds an Orchestrator with the default headless/terminal
// /embedded Spawners registered; callers add an in-process executor
// separately via WithSpawner once its LLMProvider dependency is available.
func NewOrchestrator(st *store.Store, bus *events.EventBus, wf *workflow.Engine, defs *DefinitionLoader, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:     st,
		bus:       bus,
		workflow:  wf,
		defs:      defs,
		registry:  newRegistry(),
		logger:    logger,
		maxDepth:  core.DefaultMaxAgentDepth,
		gitByRepo: make(map[core.ProjectID]*gitadapter.Client),
		spawners: map[core.SpawnMode]core.Spawner{
			core.SpawnModeHeadless: NewHeadlessSpawner(),
			core.SpawnModeTerminal: NewTerminalSpawner(),
			core.SpawnModeEmbedded: NewEmbeddedSpawner(),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSpawner registers (or replaces) the Spawner used for one SpawnMode —
// used to wire InProcessExecutor in after LLMProvider construction.
func (o *Orchestrator) WithSpawner(s core.Spawner) {
	o.spawners[s.Mode()] = s
}

// SpawnRequest is spawn_agent's input (spec.md §4.6 steps 1-3).
type SpawnRequest struct {
	ParentSessionID core.SessionID
	ParentAgentID   *string
	ParentDepth     int
	ProjectID       core.ProjectID
	Agent           string
	TaskRef         string
	Prompt          string
	Isolation       core.IsolationMode
	Mode            core.SpawnMode
	BaseBranch      string
	Overrides       SpawnOverrides
}

// SpawnResult is spawn_agent's output.
type SpawnResult struct {
	Run           *core.AgentRun
	ChildSession  *core.Session
	WorkDir       string
	Branch        string
	CleanupNeeded bool
}

// SpawnAgent implements the full spawn_agent pipeline.
func (o *Orchestrator) SpawnAgent(ctx context.Context, req SpawnRequest) (*SpawnResult, error) {
	if req.ParentDepth+1 > o.maxDepth {
		return nil, core.ErrValidation("AGENT_DEPTH_EXCEEDED",
			fmt.Sprintf("agent depth %d exceeds max_agent_depth %d; escalate to the parent instead of spawning further", req.ParentDepth+1, o.maxDepth))
	}

	// Step 1: load + merge the agent definition, call-site overrides win.
	def := o.defs.Get(req.Agent).Merge(req.Overrides)

	// Step 2: resolve the linked task, if any.
	var linkedTask *core.Task
	if req.TaskRef != "" {
		t, err := task.ResolveRef(ctx, o.store, req.ProjectID, req.TaskRef)
		if err != nil {
			return nil, fmt.Errorf("resolving task ref %q: %w", req.TaskRef, err)
		}
		linkedTask = t
	}

	proj, err := o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("resolving project: %w", err)
	}

	// Step 3/4: select and run the isolation handler.
	handler, err := o.isolationHandler(ctx, proj, req.Isolation)
	if err != nil {
		return nil, err
	}
	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = SessionBranch(req.ParentSessionID)
	}
	workDir, cleanup, err := handler.Prepare(ctx, linkedTask, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("preparing %s isolation: %w", req.Isolation, err)
	}
	branch := branchFromWorkDir(req.Isolation, workDir)

	// From here on, any failure must roll back what Prepare created.
	rollback := func() {
		if cleanup != nil {
			_ = cleanup(context.Background())
		}
	}

	// Step 5: build the enhanced prompt.
	prompt := buildEnhancedPrompt(def.SystemPrompt+"\n\n"+req.Prompt, workDir, branch, linkedTask, req.Isolation)

	// Step 6: create the child session, the AgentRun row, and pre-save the
	// default workflow state.
	runID := newID("run")
	childSessionID := core.SessionID(newID("sess"))

	child := core.NewSession(childSessionID, req.ProjectID, core.SessionSourceCLI, 0)
	child.ParentSessionID = &req.ParentSessionID
	child.SpawnedByAgentID = req.ParentAgentID
	child.AgentDepth = req.ParentDepth + 1
	seq, err := o.nextSessionSeq(ctx, req.ProjectID)
	if err != nil {
		rollback()
		return nil, err
	}
	child.SeqNum = seq
	if err := o.store.CreateSession(ctx, child); err != nil {
		rollback()
		return nil, fmt.Errorf("creating child session: %w", err)
	}

	run := &core.AgentRun{
		ID:              runID,
		ParentSessionID: req.ParentSessionID,
		ChildSessionID:  &childSessionID,
		WorkflowName:    workflowForIsolation(def, req.Isolation),
		Provider:        def.Provider,
		Model:           def.Model,
		Status:          core.AgentRunStatusRunning,
		Prompt:          prompt,
		Isolation:       req.Isolation,
		Mode:            req.Mode,
		CreatedAt:       time.Now(),
	}
	if req.Isolation == core.IsolationWorktree {
		wtID := workDirID(workDir)
		run.WorktreeID = &wtID
	}
	if req.Isolation == core.IsolationClone {
		cloneID := workDirID(workDir)
		run.CloneID = &cloneID
	}
	if err := run.Validate(); err != nil {
		rollback()
		o.abandonSession(ctx, child)
		return nil, err
	}
	if err := o.store.CreateAgentRun(ctx, run); err != nil {
		rollback()
		o.abandonSession(ctx, child)
		return nil, fmt.Errorf("creating agent run: %w", err)
	}

	if o.workflow != nil && run.WorkflowName != "" {
		if _, err := o.workflow.Activate(ctx, childSessionID, run.WorkflowName); err != nil {
			o.logger.Warn("spawn_agent: default workflow activation failed", "run_id", runID, "error", err)
		}
	}

	// Step 7: dispatch to the selected Spawner.
	spawner, ok := o.spawners[req.Mode]
	if !ok {
		rollback()
		o.abandonSession(ctx, child)
		run.MarkFailed("no spawner registered for mode")
		_ = o.store.UpdateAgentRun(ctx, run)
		return nil, core.ErrValidation("AGENT_SPAWN_MODE_UNAVAILABLE", fmt.Sprintf("no spawner registered for mode %q", req.Mode))
	}
	spec := core.SpawnSpec{
		AgentRunID:   runID,
		Provider:     def.Provider,
		Model:        def.Model,
		Prompt:       prompt,
		WorkDir:      workDir,
		AllowedTools: def.AllowedTools,
		DeniedTools:  def.DeniedTools,
		Env:          def.Env,
		Timeout:      def.Timeout,
	}
	running, err := spawner.Spawn(ctx, spec)
	if err != nil {
		run.MarkFailed(err.Error())
		_ = o.store.UpdateAgentRun(ctx, run)
		rollback()
		return nil, fmt.Errorf("spawning agent: %w", err)
	}

	now := time.Now()
	run.StartedAt = &now
	_ = o.store.UpdateAgentRun(ctx, run)

	// Step 8: register the live run.
	o.registry.put(runID, &runEntry{
		mode:      req.Mode,
		running:   running,
		sessionID: childSessionID,
		taskID:    taskIDPtr(linkedTask),
		cleanup:   func() { rollback() },
	})

	o.bus.Publish(events.NewAgentSpawnedEvent(string(req.ParentSessionID), string(req.ProjectID), runID, def.Provider, string(req.Isolation), string(req.Mode), string(childSessionID)))

	go o.awaitCompletion(runID, running)

	return &SpawnResult{Run: run, ChildSession: child, WorkDir: workDir, Branch: branch, CleanupNeeded: cleanup != nil}, nil
}

// awaitCompletion watches a spawned run to completion and records its
// terminal status, independent of any explicit wait_for_task caller.
func (o *Orchestrator) awaitCompletion(runID string, running core.RunningAgent) {
	ctx := context.Background()
	result, err := running.Wait(ctx)

	run, getErr := o.store.GetAgentRun(ctx, runID)
	if getErr != nil {
		return
	}
	if err != nil {
		run.MarkFailed(err.Error())
	} else {
		payload := map[string]any{"output": result.Output, "finish_reason": result.FinishReason}
		run.MarkCompleted(payload)
	}
	_ = o.store.UpdateAgentRun(ctx, run)
	o.registry.remove(runID)
	o.bus.Publish(events.NewAgentDoneEvent(string(run.ParentSessionID), "", runID, string(run.Status)))
}

func (o *Orchestrator) isolationHandler(ctx context.Context, proj *core.Project, mode core.IsolationMode) (core.IsolationHandler, error) {
	git, err := o.gitClient(proj)
	if err != nil && mode != core.IsolationCurrent {
		return nil, err
	}
	switch mode {
	case core.IsolationCurrent:
		return &CurrentIsolationHandler{RepoPath: proj.RepoPath}, nil
	case core.IsolationWorktree:
		return NewWorktreeIsolationHandler(git, proj.RepoPath, o.store), nil
	case core.IsolationClone:
		remote, err := git.RemoteURL(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolving clone remote: %w", err)
		}
		return NewCloneIsolationHandler(git, remote, o.cloneDir, o.store), nil
	default:
		return nil, core.ErrValidation("AGENT_ISOLATION_INVALID", fmt.Sprintf("unknown isolation mode %q", mode))
	}
}

func (o *Orchestrator) gitClient(proj *core.Project) (*gitadapter.Client, error) {
	o.gitMu.Lock()
	defer o.gitMu.Unlock()
	if c, ok := o.gitByRepo[proj.ID]; ok {
		return c, nil
	}
	c, err := gitadapter.NewClient(proj.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening git repo %s: %w", proj.RepoPath, err)
	}
	o.gitByRepo[proj.ID] = c
	return c, nil
}

// abandonSession marks a child session created mid-pipeline as expired when
// a later step of spawn_agent fails — sessions are an append-only record,
// never deleted, so rollback here means "closed, not living" (spec.md §4.6
// Failure semantics).
func (o *Orchestrator) abandonSession(ctx context.Context, sess *core.Session) {
	_ = sess.MarkExpired()
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.Error("spawn_agent: failed to abandon child session after rollback", "session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) nextSessionSeq(ctx context.Context, projectID core.ProjectID) (int, error) {
	sessions, err := o.store.ListSessionsByProject(ctx, projectID)
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

func taskIDPtr(t *core.Task) *core.TaskID {
	if t == nil {
		return nil
	}
	id := t.ID
	return &id
}

func workDirID(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// branchFromWorkDir recovers the feature branch name from the prepared work
// directory rather than recomputing worktreeNameAndBranch a second time —
// recomputing would race the timestamp fallback name chooses for task-less
// spawns and could disagree with the branch the isolation handler actually
// created.
func branchFromWorkDir(isolation core.IsolationMode, workDir string) string {
	if isolation == core.IsolationCurrent || workDir == "" {
		return ""
	}
	base := workDirID(workDir)
	base = strings.TrimPrefix(base, "gobby-")
	return "gobby/" + base
}

// newID builds a "<prefix>-xxxxxx" short hash id, the same shape and
// rationale as the task package's shortHashID (spec.md §4.3): readable
// and typeable, not a full UUID.
func newID(prefix string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%d:%s", time.Now().UnixNano(), rand.Int63(), prefix)
	sum := h.Sum(nil)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)
	return prefix + "-" + strings.ToLower(enc[:10])
}
