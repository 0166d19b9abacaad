package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	gitadapter "github.com/gobbyhq/gobby/internal/adapters/git"
	"github.com/gobbyhq/gobby/internal/core"
)

// Compile-time interface conformance checks.
var (
	_ core.IsolationHandler = (*CurrentIsolationHandler)(nil)
	_ core.IsolationHandler = (*WorktreeIsolationHandler)(nil)
	_ core.IsolationHandler = (*CloneIsolationHandler)(nil)
)

// CurrentIsolationHandler runs an agent directly in the parent session's
// working tree — no preparation, no teardown.
type CurrentIsolationHandler struct {
	RepoPath string
}

func (h *CurrentIsolationHandler) Mode() core.IsolationMode { return core.IsolationCurrent }

func (h *CurrentIsolationHandler) Prepare(ctx context.Context, task *core.Task, baseBranch string) (string, func(context.Context) error, error) {
	return h.RepoPath, func(context.Context) error { return nil }, nil
}

// WorktreeIsolationHandler creates (or reuses) a git worktree for the spawn,
// adapted from the teacher's internal/adapters/git/worktree.go naming and
// validation helpers (buildWorktreeName/normalizeLabel), generalized from
// task-only worktrees to any agent spawn with or without a linked task.
type WorktreeIsolationHandler struct {
	git     *gitadapter.Client
	manager *gitadapter.WorktreeManager
	store   worktreeStore
}

// worktreeStore is the narrow Store slice WorktreeIsolationHandler needs, to
// avoid importing internal/store directly from this file's signature.
type worktreeStore interface {
	CreateWorktreeRecord(ctx context.Context, w *core.WorktreeRecord) error
	UpdateWorktreeRecord(ctx context.Context, w *core.WorktreeRecord) error
}

// NewWorktreeIsolationHandler builds a handler bound to a project's git
// client and Store.
func NewWorktreeIsolationHandler(git *gitadapter.Client, baseDir string, st worktreeStore) *WorktreeIsolationHandler {
	return &WorktreeIsolationHandler{git: git, manager: gitadapter.NewWorktreeManager(git, baseDir), store: st}
}

func (h *WorktreeIsolationHandler) Mode() core.IsolationMode { return core.IsolationWorktree }

// Prepare creates a worktree named from the linked task (or a timestamped
// fallback when no task is linked) and records a durable WorktreeRecord.
// Fails fast on WORKTREE_EXISTS (spec.md §4.6 step 4's ".git lock
// contention" case) rather than retrying, leaving escalation to the caller.
func (h *WorktreeIsolationHandler) Prepare(ctx context.Context, task *core.Task, baseBranch string) (string, func(context.Context) error, error) {
	name, branch := worktreeNameAndBranch(task)

	wt, err := h.manager.CreateFromBranch(ctx, name, branch, baseBranch)
	if err != nil {
		return "", nil, err
	}

	record := &core.WorktreeRecord{
		ID:           name,
		BranchName:   wt.Branch,
		WorktreePath: wt.Path,
		BaseBranch:   baseBranch,
		Status:       core.WorktreeRunStatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if task != nil {
		record.TaskID = &task.ID
	}
	if err := h.store.CreateWorktreeRecord(ctx, record); err != nil {
		_ = h.manager.Remove(ctx, wt.Path, true)
		return "", nil, err
	}

	cleanup := func(ctx context.Context) error {
		record.Status = core.WorktreeRunStatusAbandoned
		record.UpdatedAt = time.Now()
		_ = h.store.UpdateWorktreeRecord(ctx, record)
		return h.manager.Remove(ctx, wt.Path, false)
	}
	return wt.Path, cleanup, nil
}

func worktreeNameAndBranch(task *core.Task) (name, branch string) {
	if task != nil {
		name = fmt.Sprintf("task-%d", task.SeqNum)
		if label := slugify(task.Title); label != "" {
			name += "-" + label
		}
	} else {
		name = fmt.Sprintf("agent-%d", time.Now().Unix())
	}
	return name, "gobby/" + name
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(s) {
		if r >= 'A' && r <= 'Z' {
			r = r - 'A' + 'a'
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash && b.Len() > 0 {
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// CloneIsolationHandler creates a full, independent shallow clone for
// isolation=clone spawns (spec.md §4.6 step 4) — unlike a worktree, the
// clone can be handed to a remote sandbox since it owns its own object
// store rather than sharing the parent repo's.
type CloneIsolationHandler struct {
	git       *gitadapter.Client
	remoteURL string
	cloneDir  string
	store     cloneStore
}

// cloneStore is the narrow Store slice CloneIsolationHandler needs.
type cloneStore interface {
	CreateClone(ctx context.Context, c *core.Clone) error
	UpdateClone(ctx context.Context, c *core.Clone) error
}

// NewCloneIsolationHandler builds a handler bound to a project's git remote
// and clone directory. remoteURL is resolved and cached once by the caller
// (spec.md §4.6 step 4's "cache remote URL resolution").
func NewCloneIsolationHandler(git *gitadapter.Client, remoteURL, cloneDir string, st cloneStore) *CloneIsolationHandler {
	return &CloneIsolationHandler{git: git, remoteURL: remoteURL, cloneDir: cloneDir, store: st}
}

func (h *CloneIsolationHandler) Mode() core.IsolationMode { return core.IsolationClone }

func (h *CloneIsolationHandler) Prepare(ctx context.Context, task *core.Task, baseBranch string) (string, func(context.Context) error, error) {
	name, branch := worktreeNameAndBranch(task)
	destPath := filepath.Join(h.cloneDir, name)

	clonedGit, err := gitadapter.CloneShallow(ctx, h.remoteURL, destPath, baseBranch)
	if err != nil {
		return "", nil, err
	}
	if err := clonedGit.CreateBranch(ctx, branch, ""); err != nil {
		return "", nil, fmt.Errorf("checking out feature branch %s in clone: %w", branch, err)
	}

	record := &core.Clone{
		ID:         name,
		BranchName: branch,
		ClonePath:  destPath,
		BaseBranch: baseBranch,
		RemoteURL:  h.remoteURL,
		Status:     core.CloneStatusActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if task != nil {
		record.TaskID = &task.ID
	}
	if err := h.store.CreateClone(ctx, record); err != nil {
		return "", nil, err
	}

	cleanup := func(ctx context.Context) error {
		// Clones are never deleted immediately on agent exit — merge_clone_to_target
		// marks them merged with a 7-day cleanup_after, purged by the
		// background sweep (spec.md §4.6 Cleanup). Nothing to do here.
		return nil
	}
	return destPath, cleanup, nil
}
