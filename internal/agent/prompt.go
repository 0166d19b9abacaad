package agent

import (
	"fmt"
	"strings"

	"github.com/gobbyhq/gobby/internal/core"
)

// buildEnhancedPrompt injects the context spec.md §4.6 step 5 names: the
// absolute workspace path, the branch, the linked task ref, the "stop when
// task is done" rule, and (for clone isolation) the "commits local until
// synced" note.
func buildEnhancedPrompt(basePrompt, workDir, branch string, task *core.Task, isolation core.IsolationMode) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "Workspace: %s\n", workDir)
	if branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", branch)
	}
	if task != nil {
		fmt.Fprintf(&b, "Linked task: #%d (%s) - %s\n", task.SeqNum, task.ID, task.Title)
		b.WriteString("Stop once this task's status leaves in_progress; do not start unrelated work.\n")
	}
	if isolation == core.IsolationClone {
		b.WriteString("This is a standalone clone: commits stay local until the parent syncs it back, so commit your work rather than leaving it uncommitted.\n")
	}
	return b.String()
}
