package agent

import (
	"context"
	"os"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
)

// defaultSweepInterval is how often the background cleanup sweep runs
// (spec.md §4.6 Cleanup).
const defaultSweepInterval = 1 * time.Hour

// RunCleanupSweep purges clones and worktrees past their cleanup deadline.
// Intended to run as a single long-lived goroutine started alongside the
// daemon; it returns when ctx is cancelled.
func (o *Orchestrator) RunCleanupSweep(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	o.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOnce(ctx)
		}
	}
}

func (o *Orchestrator) sweepOnce(ctx context.Context) {
	due, err := o.store.ListClonesDueForCleanup(ctx)
	if err != nil {
		o.logger.Error("cleanup sweep: listing due clones failed", "error", err)
		return
	}
	for _, c := range due {
		if err := o.cleanupClone(ctx, c); err != nil {
			o.logger.Error("cleanup sweep: clone cleanup failed", "clone_id", c.ID, "error", err)
		}
	}
}

func (o *Orchestrator) cleanupClone(ctx context.Context, c *core.Clone) error {
	if c.ClonePath != "" {
		if err := os.RemoveAll(c.ClonePath); err != nil {
			return err
		}
	}
	c.Status = core.CloneStatusAbandoned
	c.UpdatedAt = time.Now()
	return o.store.UpdateClone(ctx, c)
}

// MarkCloneMerged records that a clone's work has landed upstream and sets
// its cleanup deadline (spec.md §4.6 Cleanup: merged clones are kept for
// core.DefaultCloneTTL before the sweep removes them, in case of a
// follow-up question about the merge).
func (o *Orchestrator) MarkCloneMerged(ctx context.Context, c *core.Clone) error {
	now := time.Now()
	cleanupAfter := now.Add(core.DefaultCloneTTL)
	c.Status = core.CloneStatusMerged
	c.LastSyncAt = &now
	c.CleanupAfter = &cleanupAfter
	c.UpdatedAt = now
	return o.store.UpdateClone(ctx, c)
}
