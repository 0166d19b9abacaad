package task

import (
	"context"
	"fmt"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
)

// CompactProject replaces the description of every task in projectID that
// has been closed for longer than the engine's compaction age with an LLM
// summary, preserving title and IDs (spec.md §4.3 Compaction).
func (e *Engine) CompactProject(ctx context.Context, projectID core.ProjectID) (compacted int, err error) {
	if e.llm == nil {
		return 0, core.ErrProvider("no LLMProvider configured for compaction", false)
	}
	tasks, err := e.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-e.compactAfter)
	for _, t := range tasks {
		if t.Status != core.TaskStatusCompleted || t.CompactedAt != nil {
			continue
		}
		if t.UpdatedAt.After(cutoff) {
			continue
		}
		summary, err := e.summarize(ctx, t)
		if err != nil {
			return compacted, err
		}
		if err := t.Compact(summary); err != nil {
			return compacted, err
		}
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return compacted, err
		}
		compacted++
	}
	return compacted, nil
}

func (e *Engine) summarize(ctx context.Context, t *core.Task) (string, error) {
	prompt := fmt.Sprintf("Summarize this completed task in 2-3 sentences, preserving any important technical decisions:\n\nTitle: %s\nDescription: %s\nDetails: %s",
		t.Title, t.Description, t.Details)
	res, err := e.llm.Complete(ctx, core.CompletionRequest{
		Messages:  []core.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
