package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	gitadapter "github.com/gobbyhq/gobby/internal/adapters/git"
	"github.com/gobbyhq/gobby/internal/core"
)

// MergeResolver implements the git_auto tier of the merge resolution
// escalation an AgentOrchestrator runs when bringing an agent run's worktree
// branch back into its parent session's branch: git_auto -> conflict_only_ai
// -> full_file_ai -> human_review. This type only ever attempts the first
// tier; a conflict here is returned to the caller so it can escalate to the
// AI-assisted tiers.
type MergeResolver struct {
	mu       sync.Mutex
	git      *gitadapter.Client
	repoPath string
	logger   *slog.Logger
}

// NewMergeResolver creates a MergeResolver bound to a project's repository.
func NewMergeResolver(repoPath string, git *gitadapter.Client, logger *slog.Logger) *MergeResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &MergeResolver{repoPath: repoPath, git: git, logger: logger}
}

// ErrEscalate is returned when git_auto cannot complete the merge and the
// caller must escalate to the next tier of merge resolution.
var ErrEscalate = errors.New("merge requires escalation")

// SessionBranch returns the branch name a session's task work lands on
// before being merged to the project base branch.
func SessionBranch(sessionID core.SessionID) string {
	return "gobby/session/" + string(sessionID)
}

// AgentRunBranch returns the branch name an agent run's worktree was
// created against.
func AgentRunBranch(sessionID core.SessionID, runID string) string {
	return fmt.Sprintf("gobby/session/%s__run-%s", sessionID, runID)
}

// MergeRunToSession merges an agent run's branch into its parent session's
// branch using the given tier-1 strategy. On conflict it aborts the merge
// cleanly and returns ErrEscalate wrapping the underlying conflict so the
// orchestrator can move to conflict_only_ai.
func (r *MergeResolver) MergeRunToSession(ctx context.Context, sessionID core.SessionID, runID string, opts core.MergeOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionBranch := SessionBranch(sessionID)
	runBranch := AgentRunBranch(sessionID, runID)

	current, err := r.git.CurrentBranch(ctx)
	if err != nil {
		r.logger.Warn("could not read current branch before merge", "error", err)
	}

	if err := r.git.CheckoutBranch(ctx, sessionBranch); err != nil {
		return fmt.Errorf("checking out session branch %s: %w", sessionBranch, err)
	}
	if current != "" && current != sessionBranch {
		defer func() {
			_ = r.git.CheckoutBranch(ctx, current)
		}()
	}

	if opts.Message == "" {
		opts.Message = fmt.Sprintf("Merge agent run %s into session %s", runID, sessionID)
	}

	if err := r.git.Merge(ctx, runBranch, opts); err != nil {
		if errors.Is(err, gitadapter.ErrMergeConflict) {
			r.logger.Info("merge conflict, escalating", "session_id", sessionID, "run_id", runID)
			return fmt.Errorf("%w: %v", ErrEscalate, err)
		}
		return fmt.Errorf("merging run branch %s: %w", runBranch, err)
	}

	return nil
}

// RebaseRunOntoSession cherry-picks the agent run branch's unique commits
// onto the session branch one at a time, for callers that want linear
// history instead of a merge commit. Returns ErrEscalate on the first
// conflicting commit.
func (r *MergeResolver) RebaseRunOntoSession(ctx context.Context, sessionID core.SessionID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionBranch := SessionBranch(sessionID)
	runBranch := AgentRunBranch(sessionID, runID)

	picks, err := r.git.CommitRange(ctx, sessionBranch, runBranch)
	if err != nil {
		return fmt.Errorf("listing unique commits on %s: %w", runBranch, err)
	}
	if len(picks) == 0 {
		return nil
	}

	if err := r.git.CheckoutBranch(ctx, sessionBranch); err != nil {
		return fmt.Errorf("checking out session branch %s: %w", sessionBranch, err)
	}

	for _, commit := range picks {
		if err := r.git.CherryPick(ctx, commit); err != nil {
			if errors.Is(err, gitadapter.ErrMergeConflict) {
				_ = r.git.AbortCherryPick(ctx)
				shortSHA := commit
				if len(shortSHA) > 8 {
					shortSHA = shortSHA[:8]
				}
				return fmt.Errorf("%w: cherry-pick %s conflicted: %v", ErrEscalate, shortSHA, err)
			}
			return fmt.Errorf("cherry-picking %s: %w", commit, err)
		}
	}

	return nil
}

// RunStatus reports where an agent run's branch stands relative to its
// parent session branch, used by status/cleanup reporting and as input to
// the escalation decision.
type RunStatus struct {
	SessionID     core.SessionID
	RunID         string
	AheadOfParent int
	BehindParent  int
	HasConflicts  bool
	Merged        bool
}

// Status reports the ahead/behind counts and merge state of an agent run's
// branch against its session branch.
func (r *MergeResolver) Status(ctx context.Context, sessionID core.SessionID, runID string) (*RunStatus, error) {
	sessionBranch := SessionBranch(sessionID)
	runBranch := AgentRunBranch(sessionID, runID)

	ahead, behind, err := r.git.AheadBehind(ctx, sessionBranch, runBranch)
	if err != nil {
		return nil, fmt.Errorf("computing ahead/behind for %s: %w", runBranch, err)
	}

	merged, err := r.git.IsAncestor(ctx, runBranch, sessionBranch)
	if err != nil {
		merged = false
	}

	hasConflicts, _ := r.git.HasMergeConflicts(ctx)

	return &RunStatus{
		SessionID:     sessionID,
		RunID:         runID,
		AheadOfParent: ahead,
		BehindParent:  behind,
		HasConflicts:  hasConflicts,
		Merged:        merged,
	}, nil
}

// CleanupRunBranch deletes an agent run's branch once its worktree has been
// removed and, if merged, its work is safely reachable from the session
// branch.
func (r *MergeResolver) CleanupRunBranch(ctx context.Context, sessionID core.SessionID, runID string, force bool) error {
	runBranch := AgentRunBranch(sessionID, runID)
	if force {
		return r.git.DeleteBranchForce(ctx, runBranch)
	}
	return r.git.DeleteBranch(ctx, runBranch)
}

// CleanupSessionBranches removes every agent run branch nested under a
// session's branch, used once a session transitions to expired.
func (r *MergeResolver) CleanupSessionBranches(ctx context.Context, sessionID core.SessionID) error {
	prefix := SessionBranch(sessionID) + "__"
	branches, err := r.git.ListBranchesWithPrefix(ctx, prefix)
	if err != nil {
		return fmt.Errorf("listing session run branches: %w", err)
	}

	var errs []string
	for _, branch := range branches {
		if err := r.git.DeleteBranchForce(ctx, branch); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", branch, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleaning up session branches: %s", strings.Join(errs, "; "))
	}
	return nil
}
