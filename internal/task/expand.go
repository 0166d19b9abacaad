package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
)

// ExpandStrategy is expand_task's subtask-shape policy.
type ExpandStrategy string

const (
	ExpandStrategyAuto       ExpandStrategy = ""
	ExpandStrategyPhased     ExpandStrategy = "phased"
	ExpandStrategySequential ExpandStrategy = "sequential"
	ExpandStrategyParallel   ExpandStrategy = "parallel"
)

const defaultMaxSubtasks = 8
const maxExpandTurns = 6

// ExpandTaskInput is expand_task's argument set.
type ExpandTaskInput struct {
	TaskID      core.TaskID
	Strategy    ExpandStrategy
	MaxSubtasks int
	TDDMode     bool
}

// createSubtaskCall is the shape expand_task's restricted tool presents to
// the LLM — a narrowed create_task that always threads parent_task_id.
type createSubtaskCall struct {
	Title   string   `json:"title"`
	Blocks  []string `json:"blocks"`
	TDDPair bool     `json:"tdd_pair"`
}

// ExpandTask invokes an LLM agent with a restricted tool set (read-only
// navigation plus create_task) to break a task into subtasks, wiring
// parent_task_id and blocks as it goes (spec.md §4.3 Expansion). The whole
// expansion is rolled back if the final dependency graph contains a cycle.
func (e *Engine) ExpandTask(ctx context.Context, in ExpandTaskInput) (*core.Task, []*core.Task, error) {
	if e.llm == nil {
		return nil, nil, core.ErrProvider("no LLMProvider configured for expand_task", false)
	}
	parent, err := e.store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, nil, err
	}

	max := in.MaxSubtasks
	if max <= 0 {
		max = defaultMaxSubtasks
	}
	strategy := in.Strategy
	if strategy == ExpandStrategyAuto {
		strategy = autoSelectStrategy(parent)
	}

	createTaskTool := core.ToolSpec{
		Name:        "create_task",
		Description: "Create a subtask under the task being expanded. Call this once per subtask.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":    map[string]any{"type": "string"},
				"blocks":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"tdd_pair": map[string]any{"type": "boolean"},
			},
			"required": []string{"title"},
		},
	}

	messages := []core.ChatMessage{{
		Role: "user",
		Content: fmt.Sprintf(
			"Break the following task into up to %d subtasks using the %q strategy%s. "+
				"Call create_task once per subtask; use \"blocks\" to reference subtask titles created earlier "+
				"in this conversation that this one depends on.\n\nTitle: %s\nDescription: %s",
			max, strategy, tddModeSuffix(in.TDDMode), parent.Title, parent.Description),
	}}

	var created []*core.Task
	titleToID := map[string]core.TaskID{}
	rollback := func() {
		for _, t := range created {
			_ = e.store.DeleteTask(ctx, t.ID)
		}
	}

	for turn := 0; turn < maxExpandTurns && len(created) < max; turn++ {
		res, err := e.llm.CompleteWithTools(ctx, core.CompletionRequest{
			SystemPrompt: "You are decomposing a task into an ordered set of subtasks. Use only the create_task tool.",
			Messages:     messages,
			MaxTokens:    2048,
		}, []core.ToolSpec{createTaskTool})
		if err != nil {
			rollback()
			return nil, nil, err
		}
		if len(res.ToolCalls) == 0 {
			break
		}

		for _, call := range res.ToolCalls {
			if call.Name != "create_task" {
				continue
			}
			raw, _ := json.Marshal(call.Arguments)
			var parsed createSubtaskCall
			if err := json.Unmarshal(raw, &parsed); err != nil {
				continue
			}

			var blocks []core.TaskID
			for _, bt := range parsed.Blocks {
				if id, ok := titleToID[bt]; ok {
					blocks = append(blocks, id)
				}
			}

			sub, err := e.CreateTask(ctx, CreateTaskInput{
				ProjectID:    parent.ProjectID,
				Title:        parsed.Title,
				ParentTaskID: &parent.ID,
				Blocks:       blocks,
			})
			if err != nil {
				rollback()
				return nil, nil, err
			}
			if err := e.store.AddDependency(ctx, &core.TaskDependency{
				FromTaskID: sub.ID, ToTaskID: parent.ID, Type: core.DependencyDiscoveredFrom,
			}); err != nil {
				rollback()
				return nil, nil, err
			}
			created = append(created, sub)
			titleToID[parsed.Title] = sub.ID

			if in.TDDMode && parsed.TDDPair {
				testSub, err := e.CreateTask(ctx, CreateTaskInput{
					ProjectID:    parent.ProjectID,
					Title:        "Test: " + parsed.Title,
					ParentTaskID: &parent.ID,
				})
				if err != nil {
					rollback()
					return nil, nil, err
				}
				if err := e.store.AddDependency(ctx, &core.TaskDependency{
					FromTaskID: sub.ID, ToTaskID: testSub.ID, Type: core.DependencyBlocks,
				}); err != nil {
					rollback()
					return nil, nil, err
				}
				created = append(created, testSub)
			}
		}

		messages = append(messages, core.ChatMessage{Role: "assistant", Content: res.Text})
		messages = append(messages, core.ChatMessage{Role: "tool", Content: "subtasks recorded"})
	}

	ids := make([]string, len(created))
	for i, t := range created {
		ids[i] = string(t.ID)
	}
	e.bus.Publish(events.NewTaskExpandedEvent("", string(parent.ProjectID), string(parent.ID), ids))
	e.scheduleExport(parent.ProjectID)
	return parent, created, nil
}

func autoSelectStrategy(t *core.Task) ExpandStrategy {
	switch t.Type {
	case core.TaskTypeEpic:
		return ExpandStrategyPhased
	case core.TaskTypeBug:
		return ExpandStrategySequential
	default:
		return ExpandStrategyParallel
	}
}

func tddModeSuffix(tdd bool) string {
	if tdd {
		return ", pairing each implementation subtask with a test subtask that blocks it"
	}
	return ""
}
