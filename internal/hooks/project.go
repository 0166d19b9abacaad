package hooks

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/store"
)

// projectMarker is ".gobby/project.json"'s on-disk shape.
type projectMarker struct {
	ProjectID  string `json:"project_id"`
	Name       string `json:"name"`
	RepoPath   string `json:"repo_path"`
	BaseBranch string `json:"base_branch,omitempty"`
}

// resolveProject reads ".gobby/project.json" from cwd, creating the
// referenced project on first sight, or falls back to the lazily-created
// _orphaned project when no marker file exists (spec.md §3/§4.5).
func resolveProject(ctx context.Context, st *store.Store, cwd string) (*core.Project, error) {
	data, err := os.ReadFile(filepath.Join(cwd, ".gobby", "project.json"))
	if os.IsNotExist(err) {
		return ensureOrphanedProject(ctx, st)
	}
	if err != nil {
		return nil, err
	}

	var marker projectMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, core.ErrValidation("PROJECT_MARKER_INVALID", "malformed .gobby/project.json: "+err.Error())
	}
	if marker.ProjectID == "" {
		return ensureOrphanedProject(ctx, st)
	}

	proj, err := st.GetProject(ctx, core.ProjectID(marker.ProjectID))
	if err == nil {
		return proj, nil
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		return nil, err
	}

	repoPath := marker.RepoPath
	if repoPath == "" {
		repoPath = cwd
	}
	proj = core.NewProject(core.ProjectID(marker.ProjectID), marker.Name, repoPath)
	if marker.BaseBranch != "" {
		proj.BaseBranch = marker.BaseBranch
	}
	if err := st.CreateProject(ctx, proj); err != nil {
		return nil, err
	}
	return proj, nil
}

func ensureOrphanedProject(ctx context.Context, st *store.Store) (*core.Project, error) {
	proj, err := st.GetProject(ctx, core.OrphanedProjectID)
	if err == nil {
		return proj, nil
	}
	if !core.IsCategory(err, core.ErrCatNotFound) {
		return nil, err
	}
	now := time.Now()
	proj = &core.Project{
		ID:         core.OrphanedProjectID,
		Name:       "orphaned",
		IsOrphaned: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := st.CreateProject(ctx, proj); err != nil {
		return nil, err
	}
	return proj, nil
}
