package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	gitadapter "github.com/gobbyhq/gobby/internal/adapters/git"
	"github.com/gobbyhq/gobby/internal/core"
)

// conflictMarker is the literal git leaves in a file on an unresolved
// three-way merge; its presence after an AI-assisted resolution attempt
// means the attempt must be rejected rather than committed (spec.md §4.6
// Merge resolution, AI tier validation).
const conflictMarker = "<<<<<<<"

// AIMergeResolver implements merge tiers 2-4 (conflict_only_ai,
// full_file_ai, human_review), escalating from MergeResolver's tier-1
// git_auto attempt. Each AI tier's output is validated (valid UTF-8, no
// leftover conflict markers) before being accepted; a failed validation
// escalates to the next tier rather than committing a broken resolution.
type AIMergeResolver struct {
	git *MergeResolver
	raw *gitadapter.Client
	llm core.LLMProvider
}

// NewAIMergeResolver builds a resolver chaining tier 1 (git) with tiers
// 2-3 (LLM-assisted) and tier 4 (human escalation).
func NewAIMergeResolver(tier1 *MergeResolver, git *gitadapter.Client, llm core.LLMProvider) *AIMergeResolver {
	return &AIMergeResolver{git: tier1, raw: git, llm: llm}
}

// MergeTier names one step of the git_auto -> conflict_only_ai ->
// full_file_ai -> human_review escalation ladder.
type MergeTier string

const (
	MergeTierGitAuto        MergeTier = "git_auto"
	MergeTierConflictOnlyAI MergeTier = "conflict_only_ai"
	MergeTierFullFileAI     MergeTier = "full_file_ai"
	MergeTierHumanReview    MergeTier = "human_review"
)

// MergeOutcome reports which tier resolved an agent run's merge, or that it
// escalated all the way to human_review.
type MergeOutcome struct {
	Tier          MergeTier
	Resolved      bool
	ConflictFiles []string
}

// Resolve runs the full escalation ladder for merging an agent run's branch
// into its parent session branch.
func (r *AIMergeResolver) Resolve(ctx context.Context, sessionID core.SessionID, runID string, opts core.MergeOptions) (MergeOutcome, error) {
	err := r.git.MergeRunToSession(ctx, sessionID, runID, opts)
	if err == nil {
		return MergeOutcome{Tier: MergeTierGitAuto, Resolved: true}, nil
	}
	if r.llm == nil {
		return r.abortToHumanReview(ctx, sessionID, runID)
	}

	conflicts, cErr := r.raw.GetConflictFiles(ctx)
	if cErr != nil || len(conflicts) == 0 {
		return r.abortToHumanReview(ctx, sessionID, runID)
	}

	if resolved, rErr := r.resolveConflictOnly(ctx, conflicts); rErr == nil && resolved {
		if commitErr := r.commitResolution(ctx, runID); commitErr == nil {
			return MergeOutcome{Tier: MergeTierConflictOnlyAI, Resolved: true}, nil
		}
	}
	_ = r.raw.AbortMerge(ctx)

	if err := r.git.MergeRunToSession(ctx, sessionID, runID, opts); err != nil {
		conflicts, _ = r.raw.GetConflictFiles(ctx)
		if resolved, rErr := r.resolveFullFile(ctx, conflicts); rErr == nil && resolved {
			if commitErr := r.commitResolution(ctx, runID); commitErr == nil {
				return MergeOutcome{Tier: MergeTierFullFileAI, Resolved: true}, nil
			}
		}
		_ = r.raw.AbortMerge(ctx)
	} else {
		return MergeOutcome{Tier: MergeTierGitAuto, Resolved: true}, nil
	}

	return MergeOutcome{Tier: MergeTierHumanReview, Resolved: false, ConflictFiles: conflicts}, nil
}

func (r *AIMergeResolver) abortToHumanReview(ctx context.Context, sessionID core.SessionID, runID string) (MergeOutcome, error) {
	conflicts, _ := r.raw.GetConflictFiles(ctx)
	_ = r.raw.AbortMerge(ctx)
	return MergeOutcome{Tier: MergeTierHumanReview, Resolved: false, ConflictFiles: conflicts}, nil
}

// resolveConflictOnly asks the LLM to resolve only the conflicted hunks in
// each file, leaving the rest of the file untouched — tier 2, the cheaper
// of the two AI tiers.
func (r *AIMergeResolver) resolveConflictOnly(ctx context.Context, files []string) (bool, error) {
	for _, f := range files {
		content, err := r.readWorkingFile(f)
		if err != nil {
			return false, err
		}
		resolved, err := r.askLLMToResolve(ctx, f, content, false)
		if err != nil {
			return false, err
		}
		if !validMergeResolution(resolved) {
			return false, nil
		}
		if err := r.writeWorkingFile(f, resolved); err != nil {
			return false, err
		}
		if err := r.raw.Add(ctx, f); err != nil {
			return false, err
		}
	}
	return true, nil
}

// resolveFullFile asks the LLM to regenerate the entire file from both
// sides of the conflict — tier 3, used when the narrower tier 2 prompt
// fails to produce a clean resolution.
func (r *AIMergeResolver) resolveFullFile(ctx context.Context, files []string) (bool, error) {
	for _, f := range files {
		content, err := r.readWorkingFile(f)
		if err != nil {
			return false, err
		}
		resolved, err := r.askLLMToResolve(ctx, f, content, true)
		if err != nil {
			return false, err
		}
		if !validMergeResolution(resolved) {
			return false, nil
		}
		if err := r.writeWorkingFile(f, resolved); err != nil {
			return false, err
		}
		if err := r.raw.Add(ctx, f); err != nil {
			return false, err
		}
	}
	return true, nil
}

// readWorkingFile/writeWorkingFile operate on the conflicted file as it
// sits in the working tree mid-merge (git leaves conflict markers there
// directly; there is no porcelain command for reading/writing that content).
func (r *AIMergeResolver) readWorkingFile(relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.raw.RepoPath(), relPath))
	if err != nil {
		return "", fmt.Errorf("reading conflicted file %s: %w", relPath, err)
	}
	return string(data), nil
}

func (r *AIMergeResolver) writeWorkingFile(relPath, content string) error {
	if err := os.WriteFile(filepath.Join(r.raw.RepoPath(), relPath), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing resolved file %s: %w", relPath, err)
	}
	return nil
}

func (r *AIMergeResolver) askLLMToResolve(ctx context.Context, path, conflictedContent string, fullFile bool) (string, error) {
	scope := "only the conflicted hunks (the regions between <<<<<<<, =======, and >>>>>>> markers)"
	if fullFile {
		scope = "the entire file, reconciling both sides of every conflict"
	}
	req := core.CompletionRequest{
		SystemPrompt: "You resolve git merge conflicts. Return only the final file content with no markers, no commentary, no code fences.",
		Messages: []core.ChatMessage{
			{Role: "user", Content: fmt.Sprintf("Resolve %s in %s, preserving the intent of both sides:\n\n%s", scope, path, conflictedContent)},
		},
		Temperature: 0,
	}
	result, err := r.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm merge resolution for %s: %w", path, err)
	}
	return result.Text, nil
}

func validMergeResolution(content string) bool {
	return utf8.ValidString(content) && !strings.Contains(content, conflictMarker)
}

func (r *AIMergeResolver) commitResolution(ctx context.Context, runID string) error {
	_, err := r.raw.Commit(ctx, fmt.Sprintf("Merge agent run %s (AI-assisted conflict resolution)", runID))
	return err
}
