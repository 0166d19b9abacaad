package task

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/gobbyhq/gobby/internal/core"
)

// exportDebounce is how long export_to_jsonl waits after the last mutation
// before writing, coalescing bursts of task updates into one write
// (spec.md §4.3 Sync).
const exportDebounce = 5 * time.Second

// jsonlRecord is one line of a project's tasks.jsonl — a task plus its
// outgoing dependency edges, flattened for a git-diffable, line-per-task
// format (spec.md §6).
type jsonlRecord struct {
	Task         *core.Task             `json:"task"`
	Dependencies []*core.TaskDependency `json:"dependencies,omitempty"`
}

// scheduleExport debounces an export_to_jsonl call ~5s after the most
// recent mutation to projectID, coalescing rapid successive writes.
func (e *Engine) scheduleExport(projectID core.ProjectID) {
	e.exportMu.Lock()
	defer e.exportMu.Unlock()
	if t, ok := e.exportAt[projectID]; ok {
		t.Stop()
	}
	e.exportAt[projectID] = time.AfterFunc(exportDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.ExportToJSONL(ctx, projectID); err != nil {
			e.logger.Error("debounced jsonl export failed", "project_id", projectID, "error", err)
		}
	})
}

// jsonlPath is where a project's export lives relative to its repo root —
// ".gobby/tasks.jsonl", alongside the project.json marker file hooks read.
func jsonlPath(repoPath string) string {
	return filepath.Join(repoPath, ".gobby", "tasks.jsonl")
}

// ExportToJSONL writes a line-per-task record, including each task's
// outgoing dependency edges, atomically via renameio so a reader never sees
// a half-written file.
func (e *Engine) ExportToJSONL(ctx context.Context, projectID core.ProjectID) error {
	proj, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	tasks, err := e.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return err
	}

	path := jsonlPath(proj.RepoPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating .gobby dir: %w", err)
	}

	var buf bytes.Buffer
	for _, task := range tasks {
		deps, err := e.store.ListDependencies(ctx, task.ID)
		if err != nil {
			return err
		}
		line, err := json.Marshal(jsonlRecord{Task: task, Dependencies: deps})
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// ImportFromJSONL reads a project's tasks.jsonl and merges it into the
// store, last-write-wins by updated_at (spec.md §8 round-trip property).
// Tasks not yet known locally are created outright; known tasks are only
// overwritten if the file's copy is newer.
func (e *Engine) ImportFromJSONL(ctx context.Context, projectID core.ProjectID) (imported, skipped int, err error) {
	proj, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return 0, 0, err
	}

	f, err := os.Open(jsonlPath(proj.RepoPath))
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return imported, skipped, fmt.Errorf("parsing tasks.jsonl line: %w", err)
		}

		existing, getErr := e.store.GetTask(ctx, rec.Task.ID)
		switch {
		case getErr != nil && core.IsCategory(getErr, core.ErrCatNotFound):
			if err := e.store.CreateTask(ctx, rec.Task); err != nil {
				return imported, skipped, err
			}
			imported++
		case getErr != nil:
			return imported, skipped, getErr
		case rec.Task.UpdatedAt.After(existing.UpdatedAt):
			if err := e.store.UpdateTask(ctx, rec.Task); err != nil {
				return imported, skipped, err
			}
			imported++
		default:
			skipped++
		}

		for _, dep := range rec.Dependencies {
			if err := e.store.AddDependency(ctx, dep); err != nil && !core.IsCategory(err, core.ErrCatConstraint) {
				return imported, skipped, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return imported, skipped, err
	}
	return imported, skipped, nil
}
