package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gobbyhq/gobby/internal/core"
)

// defaultPollInterval is how often WaitForTask re-checks task status while
// blocked (spec.md §4.6 Blocking waits).
const defaultPollInterval = 5 * time.Second

// WaitResult reports the outcome of a blocking wait on one or more tasks.
type WaitResult struct {
	TaskID        core.TaskID
	Status        core.TaskStatus
	TimedOut      bool
	CurrentStatus core.TaskStatus
}

// WaitForTask blocks until taskID reaches a terminal status or timeout
// elapses, polling at defaultPollInterval.
func (o *Orchestrator) WaitForTask(ctx context.Context, taskID core.TaskID, timeout time.Duration) (WaitResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		task, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			return WaitResult{}, err
		}
		if task.IsTerminal() {
			return WaitResult{TaskID: taskID, Status: task.Status, CurrentStatus: task.Status}, nil
		}
		if time.Now().After(deadline) {
			return WaitResult{TaskID: taskID, TimedOut: true, CurrentStatus: task.Status}, nil
		}

		select {
		case <-ctx.Done():
			return WaitResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForAnyTask blocks until the first of taskIDs reaches a terminal
// status, or all time out.
func (o *Orchestrator) WaitForAnyTask(ctx context.Context, taskIDs []core.TaskID, timeout time.Duration) (WaitResult, error) {
	if len(taskIDs) == 0 {
		return WaitResult{}, core.ErrValidation("WAIT_TASK_IDS_REQUIRED", "wait_for_any_task requires at least one task id")
	}

	results := make(chan WaitResult, len(taskIDs))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	for _, id := range taskIDs {
		id := id
		g.Go(func() error {
			r, err := o.WaitForTask(ctx, id, timeout)
			if err != nil {
				return err
			}
			results <- r
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	for {
		select {
		case r := <-results:
			if !r.TimedOut {
				cancel()
				return r, nil
			}
		case err := <-done:
			select {
			case r := <-results:
				return r, nil
			default:
				return WaitResult{TimedOut: true}, err
			}
		}
	}
}

// WaitForAllTasks blocks until every task in taskIDs reaches a terminal
// status, or timeout elapses for any of them.
func (o *Orchestrator) WaitForAllTasks(ctx context.Context, taskIDs []core.TaskID, timeout time.Duration) ([]WaitResult, error) {
	results := make([]WaitResult, len(taskIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range taskIDs {
		i, id := i, id
		g.Go(func() error {
			r, err := o.WaitForTask(gctx, id, timeout)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
