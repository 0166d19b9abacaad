package task

import (
	"context"
	"strconv"
	"strings"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/store"
)

// ResolveRef resolves a task reference in any of the three forms spec.md
// §4.6's spawn_agent step 2 names: "#N"/"N" (seq_num within projectID) or a
// raw TaskID. Used by spawn_agent and anywhere else a caller-supplied task
// reference needs resolving against a specific project.
func ResolveRef(ctx context.Context, st *store.Store, projectID core.ProjectID, ref string) (*core.Task, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, core.ErrValidation("TASK_REF_REQUIRED", "task reference cannot be empty")
	}

	if seq, ok := parseSeqRef(ref); ok {
		tasks, err := st.ListTasksByProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.SeqNum == seq {
				return t, nil
			}
		}
		return nil, core.ErrNotFound("task", ref)
	}

	return st.GetTask(ctx, core.TaskID(ref))
}

func parseSeqRef(ref string) (int, bool) {
	trimmed := strings.TrimPrefix(ref, "#")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
