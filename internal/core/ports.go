package core

import (
	"context"
	"time"
)

// =============================================================================
// Agent capability port — the contract a spawned CLI or in-process agent
// adapter must satisfy, used by every Spawner implementation (C6).
// =============================================================================

// Agent defines the contract for AI agent CLI/provider adapters.
type Agent interface {
	// Name returns the adapter identifier (e.g., "claude", "gemini", "codex").
	Name() string

	// Capabilities returns what the agent can do.
	Capabilities() Capabilities

	// Ping checks if the agent CLI is available and authenticated.
	Ping(ctx context.Context) error

	// Execute runs a prompt through the agent and returns the result.
	Execute(ctx context.Context, opts ExecuteOptions) (*ExecuteResult, error)
}

// Capabilities describes what an agent can do.
type Capabilities struct {
	SupportsStreaming bool
	SupportsTools     bool
	SupportsImages    bool
	SupportsJSON      bool
	SupportedModels   []string
	DefaultModel      string
	MaxContextTokens  int
	MaxOutputTokens   int
	RateLimitRPM      int
	RateLimitTPM      int
}

// OutputFormat specifies the expected output format.
type OutputFormat string

const (
	OutputFormatText     OutputFormat = "text"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatMarkdown OutputFormat = "markdown"
)

// ExecuteOptions configures an agent execution.
type ExecuteOptions struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
	Format       OutputFormat
	Timeout      time.Duration
	WorkDir      string
	AllowedTools []string
	DeniedTools  []string
	Sandbox      bool
}

// DefaultExecuteOptions returns sensible defaults.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		MaxTokens:   4096,
		Temperature: 0.7,
		Format:      OutputFormatText,
		Timeout:     10 * time.Minute,
	}
}

// ExecuteResult contains the output of an agent execution.
type ExecuteResult struct {
	Output       string
	Parsed       map[string]any
	TokensIn     int
	TokensOut    int
	CostUSD      float64
	Duration     time.Duration
	Model        string
	FinishReason string
	ToolCalls    []ToolCall
}

// ToolCall represents a tool invocation by the agent.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	Result    string
}

// TotalTokens returns the sum of input and output tokens.
func (r *ExecuteResult) TotalTokens() int {
	return r.TokensIn + r.TokensOut
}

// AgentRegistry manages registered agent adapters.
type AgentRegistry interface {
	Register(name string, agent Agent) error
	Get(name string) (Agent, error)
	List() []string
	Available(ctx context.Context) []string
}

// =============================================================================
// LLMProvider port (C8) — the capability interface an AgentOrchestrator or
// TaskEngine validation/expand loop uses to call an LLM directly, as
// distinct from shelling out to a CLI agent via Spawner.
// =============================================================================

// LLMProvider is a direct (non-subprocess) LLM capability, used by
// validate_task/expand_task's in-process agent and by the conductor chat
// loop.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	CompleteWithTools(ctx context.Context, req CompletionRequest, tools []ToolSpec) (*CompletionResult, error)
}

// CompletionRequest is a single LLM call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	Model        string
	MaxTokens    int
	Temperature  float64
}

// ChatMessage is one turn of a CompletionRequest's conversation.
type ChatMessage struct {
	Role    string // "user", "assistant", "tool"
	Content string
}

// ToolSpec describes a tool an LLM may call, validated against
// santhosh-tekuri/jsonschema/v6 before being handed to the provider.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionResult is an LLM call's output.
type CompletionResult struct {
	Text       string
	ToolCalls  []ToolCall
	TokensIn   int
	TokensOut  int
	StopReason string
}

// =============================================================================
// Spawner and IsolationHandler ports (C6) — AgentOrchestrator dispatches to
// one of each via a tagged config map, never via type-switch inheritance
// (spec.md §9 design notes).
// =============================================================================

// Spawner starts a spawned agent's process under a specific attachment mode
// (headless subprocess, attached terminal, embedded PTY, or in-process
// function call) and returns a handle the orchestrator can wait on or kill.
type Spawner interface {
	Mode() SpawnMode
	Spawn(ctx context.Context, spec SpawnSpec) (RunningAgent, error)
}

// SpawnSpec is everything a Spawner needs to start a run.
type SpawnSpec struct {
	AgentRunID   string
	Provider     string
	Model        string
	Prompt       string
	WorkDir      string
	AllowedTools []string
	DeniedTools  []string
	Env          map[string]string
	Timeout      time.Duration
}

// RunningAgent is a handle to a spawned, in-flight agent process.
type RunningAgent interface {
	// PID returns the OS process id, or 0 if the spawn mode has none
	// (in-process).
	PID() int

	// Wait blocks until the run finishes or ctx is cancelled.
	Wait(ctx context.Context) (*ExecuteResult, error)

	// Kill terminates the run, returning alreadyDead if the process had
	// already exited (spec.md §8 boundary case).
	Kill(ctx context.Context, grace time.Duration) (alreadyDead bool, err error)
}

// IsolationHandler prepares and tears down the working tree a spawned
// agent runs in.
type IsolationHandler interface {
	Mode() IsolationMode
	Prepare(ctx context.Context, task *Task, baseBranch string) (workDir string, cleanup func(context.Context) error, err error)
}

// =============================================================================
// HookSource port (C5) — a plugin or built-in source of hook handlers the
// HookDispatcher pipeline invokes in order (pre-plugin, core, post-plugin).
// =============================================================================

// HookEvent is the normalized shape every HookSource handler receives,
// regardless of whether it originated from a tool call, a session
// lifecycle transition, or a webhook relay.
type HookEvent struct {
	Type      string
	Source    string // "claude", "gemini", "codex", "other"
	SessionID SessionID
	ToolName  string
	Args      map[string]any
	Timestamp time.Time
}

// HookDecision is what a single hook handler returns. Allow is the zero
// value so a handler that does nothing is equivalent to an explicit allow
// (fail-open, except UserBlocked).
type HookDecision struct {
	Action  RuleAction
	Reason  string
	Context map[string]any
}

// HookSource handles one HookEvent and returns a decision. Handler errors
// are logged and treated as allow, except when the handler itself returns
// an ErrUserBlocked DomainError.
type HookSource interface {
	Name() string
	Priority() int // < 50 runs pre-plugin/pre-core, >= 50 runs post-plugin
	Handle(ctx context.Context, event HookEvent) (HookDecision, error)
}

// =============================================================================
// SearchBackend port (C9) — progressive-disclosure skill/memory ranking.
// =============================================================================

// SearchBackend ranks candidates against a free-text query, used by
// list_skills/search_skills and memory lookup.
type SearchBackend interface {
	Search(query string, candidates []string, limit int) []SearchMatch
}

// SearchMatch is one ranked result from a SearchBackend.
type SearchMatch struct {
	Value string
	Score int
}

// =============================================================================
// GitClient port (C7)
// =============================================================================

// GitClient defines the contract for git operations. internal/adapters/git's
// Client implements a superset of this (merge/rebase/stash/etc.) — the
// interface only needs to name what core-level callers (WorktreeManager,
// AgentOrchestrator's isolation handlers) actually call through.
type GitClient interface {
	RepoRoot(ctx context.Context) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	DefaultBranch(ctx context.Context) (string, error)
	RemoteURL(ctx context.Context) (string, error)

	BranchExists(ctx context.Context, name string) (bool, error)
	CreateBranch(ctx context.Context, name, base string) error
	DeleteBranch(ctx context.Context, name string) error
	CheckoutBranch(ctx context.Context, name string) error

	CreateWorktree(ctx context.Context, path, branch string) error
	RemoveWorktree(ctx context.Context, path string) error
	ListWorktrees(ctx context.Context) ([]Worktree, error)

	Status(ctx context.Context) (*GitStatus, error)
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, remote, branch string) error

	Diff(ctx context.Context, base, head string) (string, error)
	DiffFiles(ctx context.Context, base, head string) ([]string, error)

	IsClean(ctx context.Context) (bool, error)
	Fetch(ctx context.Context, remote string) error
}

// Worktree represents a git worktree as read back from `git worktree list`
// — the live, ephemeral view. The Store's durable WorktreeRecord is a
// different type: it survives across `git worktree prune` and daemon
// restarts.
type Worktree struct {
	Path     string
	Branch   string
	Commit   string
	IsMain   bool
	IsLocked bool
}

// GitStatus represents the status of a git repository.
type GitStatus struct {
	Branch       string
	Ahead        int
	Behind       int
	Staged       []FileStatus
	Unstaged     []FileStatus
	Untracked    []string
	HasConflicts bool
}

// FileStatus represents a file's git status.
type FileStatus struct {
	Path   string
	Status string // M, A, D, R, C, U
}

// MergeOptions configures how AgentOrchestrator's tier-1 (git_auto) merge
// resolution invokes the underlying git merge.
type MergeOptions struct {
	Strategy       string // "recursive", "ours", "theirs"
	StrategyOption string // passed as `-X`, e.g. "theirs", "patience"
	NoFastForward  bool
	NoCommit       bool
	Squash         bool
	Message        string
}

// WorktreeManager provides higher-level, task-keyed worktree management on
// top of a GitClient.
type WorktreeManager interface {
	Create(ctx context.Context, task *Task, branch string) (*WorktreeInfo, error)
	Get(ctx context.Context, task *Task) (*WorktreeInfo, error)
	Remove(ctx context.Context, task *Task) error
	CleanupStale(ctx context.Context) error
	List(ctx context.Context) ([]*WorktreeInfo, error)
}

// WorktreeInfo contains information about a task's worktree.
type WorktreeInfo struct {
	TaskID    TaskID
	Path      string
	Branch    string
	CreatedAt time.Time
	Status    WorktreeStatus
}

// WorktreeStatus represents the state of a worktree.
type WorktreeStatus string

const (
	WorktreeStatusActive  WorktreeStatus = "active"
	WorktreeStatusStale   WorktreeStatus = "stale"
	WorktreeStatusCleaned WorktreeStatus = "cleaned"
)
