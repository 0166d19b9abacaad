// Package core holds Gobby's domain model: the entities every other
// package (store, events, workflow, taskengine, agent, mcp, httpapi)
// reads and writes, plus the capability interfaces that let those packages
// depend on an abstraction rather than on each other directly.
package core

// Log levels, shared by internal/logging and the config loader.
const (
	LogDebug = "debug"
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// LogLevels is the ordered list of log levels accepted by --log-level.
var LogLevels = []string{LogDebug, LogInfo, LogWarn, LogError}

// Log formats.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LogFormats is the ordered list of log formats accepted by --log-format.
var LogFormats = []string{LogFormatAuto, LogFormatText, LogFormatJSON}

// MergeTier names one of the four escalating merge-resolution strategies
// AgentOrchestrator tries in order when reconciling a finished agent's
// worktree/clone branch back into its parent (spec.md §4.6).
type MergeTier string

const (
	MergeTierGitAuto        MergeTier = "git_auto"
	MergeTierConflictOnlyAI MergeTier = "conflict_only_ai"
	MergeTierFullFileAI     MergeTier = "full_file_ai"
	MergeTierHumanReview    MergeTier = "human_review"
)

// MergeTiers is the escalation order tried by merge resolution.
var MergeTiers = []MergeTier{
	MergeTierGitAuto,
	MergeTierConflictOnlyAI,
	MergeTierFullFileAI,
	MergeTierHumanReview,
}

// Default polling/timeout values named in spec.md §4.6/§5.
const (
	DefaultWaitPollInterval = 5 // seconds; wait_for_task/wait_for_any_task/wait_for_all_tasks
)
