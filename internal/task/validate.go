package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
)

// maxDiffBytes truncates the diff context validate_task hands the LLM, so a
// huge changeset doesn't blow the provider's context window.
const maxDiffBytes = 32 * 1024

// ValidateTaskInput is validate_task's argument set. Fix-subtask creation on
// failure is unconditional (spec.md §8 scenario 5), so there is no
// create_fix_subtask flag to set here.
type ValidateTaskInput struct {
	TaskID               core.TaskID
	UseExternalValidator bool
}

// ValidateTaskResult is what the validation loop decided.
type ValidateTaskResult struct {
	Task    *core.Task
	Passed  bool
	Issues  []string
	Forced  bool // true if this failure pushed the task to failed
	Subtask *core.Task
}

type validationVerdict struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues"`
}

// ValidateTask gathers the task's diff context and validation_criteria,
// invokes the configured validator, and updates the task per spec.md §4.3:
// on pass, records success; on fail, increments validation_fail_count,
// optionally spawns a fix subtask, and forces the task to failed once
// max_validation_fails is reached.
func (e *Engine) ValidateTask(ctx context.Context, in ValidateTaskInput) (*ValidateTaskResult, error) {
	t, err := e.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}

	diff, files, err := e.gatherDiffContext(ctx, t)
	if err != nil {
		return nil, err
	}

	var passed bool
	var issues []string
	if in.UseExternalValidator && e.external != nil {
		passed, issues, err = e.external.Validate(ctx, t, diff, files)
	} else {
		passed, issues, err = e.validateInProcess(ctx, t, diff, files)
	}
	if err != nil {
		return nil, err
	}

	result := &ValidateTaskResult{Task: t, Passed: passed, Issues: issues}

	if passed {
		t.RecordValidationSuccess()
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return nil, err
		}
		e.bus.Publish(events.NewTaskValidationPassedEvent("", string(t.ProjectID), string(t.ID)))
		e.scheduleExport(t.ProjectID)
		return result, nil
	}

	feedback := strings.Join(issues, "\n")
	forced, err := t.RecordValidationFailure(feedback, e.maxValidationFails)
	if err != nil {
		return nil, err
	}
	result.Forced = forced
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	e.bus.Publish(events.NewTaskValidationFailedEvent("", string(t.ProjectID), string(t.ID), t.ValidationFailCount, feedback))
	e.scheduleExport(t.ProjectID)

	if !forced && feedback != "" {
		sub, err := e.CreateTask(ctx, CreateTaskInput{
			ProjectID:    t.ProjectID,
			Title:        fmt.Sprintf("Fix: %s", t.Title),
			Description:  feedback,
			Type:         core.TaskTypeChore,
			Priority:     core.TaskPriorityHigh,
			ParentTaskID: &t.ID,
		})
		if err != nil {
			return nil, err
		}
		result.Subtask = sub
	}

	return result, nil
}

func (e *Engine) validateInProcess(ctx context.Context, t *core.Task, diff string, files []string) (bool, []string, error) {
	if e.llm == nil {
		return false, nil, core.ErrProvider("no LLMProvider configured for validate_task", false)
	}

	prompt := fmt.Sprintf(`Validation criteria: %s

Files touched: %s

Diff:
%s

Respond with strict JSON only: {"passed": bool, "issues": [string, ...]}.`,
		t.ValidationCriteria, strings.Join(files, ", "), truncate(diff, maxDiffBytes))

	res, err := e.llm.Complete(ctx, core.CompletionRequest{
		SystemPrompt: "You are a strict code reviewer validating whether a task's changes meet its stated criteria.",
		Messages:     []core.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:    1024,
	})
	if err != nil {
		return false, nil, err
	}

	var verdict validationVerdict
	text := extractJSON(res.Text)
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return false, []string{fmt.Sprintf("validator returned a non-JSON response: %s", res.Text)}, nil
	}
	return verdict.Passed, verdict.Issues, nil
}

// gatherDiffContext implements spec.md §4.3's context gathering: commit
// diffs for commits[] if any, else the current uncommitted diff.
func (e *Engine) gatherDiffContext(ctx context.Context, t *core.Task) (string, []string, error) {
	git, ok := e.git[t.ProjectID]
	if !ok {
		return "", nil, nil
	}
	if len(t.Commits) > 0 {
		first := t.Commits[0]
		last := t.Commits[len(t.Commits)-1]
		diff, err := git.Diff(ctx, first+"^", last)
		if err != nil {
			return "", nil, err
		}
		files, err := git.DiffFiles(ctx, first+"^", last)
		if err != nil {
			return "", nil, err
		}
		return diff, files, nil
	}
	diff, err := git.Diff(ctx, "HEAD", "")
	if err != nil {
		return "", nil, err
	}
	files, err := git.DiffFiles(ctx, "HEAD", "")
	if err != nil {
		return "", nil, err
	}
	return diff, files, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

// extractJSON pulls the first {...} block out of a response, tolerating a
// provider that wraps its JSON in prose or a markdown fence.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
