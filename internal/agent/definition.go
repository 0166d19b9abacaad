// Package agent implements the AgentOrchestrator (C6): spawning and
// supervising subagents across isolation and execution modes, cross-agent
// messaging, and merge resolution of their work back into a parent branch.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gobbyhq/gobby/internal/core"
)

// Definition is an agent YAML's parsed shape (spec.md §4.6 step 1): a named,
// reusable bundle of defaults spawn_agent merges with call-site overrides,
// call site always winning.
type Definition struct {
	Name         string            `yaml:"name"`
	Provider     string            `yaml:"provider"`
	Model        string            `yaml:"model"`
	SystemPrompt string            `yaml:"system_prompt"`
	Workflow     string            `yaml:"workflow"`
	AllowedTools []string          `yaml:"allowed_tools"`
	DeniedTools  []string          `yaml:"denied_tools"`
	MaxTurns     int               `yaml:"max_turns"`
	Timeout      time.Duration     `yaml:"timeout"`
	Env          map[string]string `yaml:"env"`
}

// genericDefinition is the built-in fallback for agent="generic" when no
// matching YAML is found, keeping spawn_agent usable with zero configured
// agent definitions.
var genericDefinition = &Definition{
	Name:     "generic",
	Provider: "claude",
	Workflow: "worktree-agent",
	MaxTurns: 40,
	Timeout:  30 * time.Minute,
}

// DefinitionLoader reads agent YAML from one or more directories, later
// directories winning on name collision — the same precedence convention as
// workflow.Loader.
type DefinitionLoader struct {
	dirs []string
	defs map[string]*Definition
}

// NewDefinitionLoader creates a loader over dirs in increasing precedence
// order.
func NewDefinitionLoader(dirs ...string) *DefinitionLoader {
	return &DefinitionLoader{dirs: dirs, defs: make(map[string]*Definition)}
}

// Load reads every *.yaml/*.yml in the loader's directories.
func (l *DefinitionLoader) Load() error {
	defs := make(map[string]*Definition)
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading agent directory %s: %w", dir, err)
		}
		for _, ent := range entries {
			if ent.IsDir() {
				continue
			}
			name := ent.Name()
			if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
				continue
			}
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			var def Definition
			if err := yaml.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			defs[def.Name] = &def
		}
	}
	l.defs = defs
	return nil
}

// Get returns the named definition, falling back to the built-in "generic"
// definition for unknown names — spawn_agent never hard-fails for a missing
// agent YAML, since agent="generic" is the documented zero-config default.
func (l *DefinitionLoader) Get(name string) *Definition {
	if name == "" {
		name = "generic"
	}
	if l != nil {
		if def, ok := l.defs[name]; ok {
			return def
		}
	}
	if name == "generic" {
		return genericDefinition
	}
	return &Definition{Name: name, Provider: genericDefinition.Provider, Workflow: genericDefinition.Workflow, MaxTurns: genericDefinition.MaxTurns, Timeout: genericDefinition.Timeout}
}

// SpawnOverrides are the call-site values spawn_agent accepts, which always
// win over a Definition's defaults (spec.md §4.6 step 1).
type SpawnOverrides struct {
	Provider string
	Model    string
	Workflow string
	Timeout  time.Duration
}

// Merge applies o onto def's defaults, returning a new Definition — def
// itself is never mutated since it may be shared across concurrent spawns.
func (def *Definition) Merge(o SpawnOverrides) *Definition {
	merged := *def
	if o.Provider != "" {
		merged.Provider = o.Provider
	}
	if o.Model != "" {
		merged.Model = o.Model
	}
	if o.Workflow != "" {
		merged.Workflow = o.Workflow
	}
	if o.Timeout > 0 {
		merged.Timeout = o.Timeout
	}
	return &merged
}

// workflowForIsolation picks the default workflow spec.md §4.6 step 6
// names when a definition doesn't specify one: worktree-agent for isolated
// modes, none (inherit parent's) for current.
func workflowForIsolation(def *Definition, isolation core.IsolationMode) string {
	if def.Workflow != "" {
		return def.Workflow
	}
	if isolation == core.IsolationCurrent {
		return ""
	}
	return "worktree-agent"
}
