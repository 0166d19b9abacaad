// Package workflow implements Gobby's WorkflowEngine (C4): the per-session
// phase state machine that decides whether a tool call may proceed, injects
// context, and drives phase transitions, plus the YAML definition loader
// that feeds it.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/gobbyhq/gobby/internal/core"
)

// Loader reads workflow YAML from one or more directories (project-local
// `.gobby/workflows/` takes precedence over the global `~/.gobby/workflows/`
// on name collision), resolves `extends` via deep-merge, and watches the
// directories for hot-reload — spec.md §5 names workflow YAMLs as one of
// the two things configuration hot-reloads, the other being plugin/skill
// sets.
type Loader struct {
	mu    sync.RWMutex
	dirs  []string
	defs  map[string]*core.WorkflowDefinition
	watch *fsnotify.Watcher
}

// NewLoader creates a Loader over dirs, in increasing precedence order
// (later directories win on name collision).
func NewLoader(dirs ...string) *Loader {
	return &Loader{dirs: dirs, defs: make(map[string]*core.WorkflowDefinition)}
}

// Load reads every *.yaml/*.yml file in the loader's directories, resolves
// extends, and replaces the in-memory definition set atomically.
func (l *Loader) Load() error {
	raw := make(map[string]*core.WorkflowDefinition)
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading workflow directory %s: %w", dir, err)
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
			var def core.WorkflowDefinition
			if err := yaml.Unmarshal(data, &def); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}
			def.SourcePath = path
			def.PhaseOrder = phaseDeclarationOrder(data)
			raw[def.Name] = &def
		}
	}

	if err := checkExtendsCycles(raw); err != nil {
		return err
	}

	resolved := make(map[string]*core.WorkflowDefinition, len(raw))
	for name := range raw {
		def, err := resolveExtends(name, raw, map[string]bool{})
		if err != nil {
			return err
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", name, err)
		}
		resolved[name] = def
	}

	l.mu.Lock()
	l.defs = resolved
	l.mu.Unlock()
	return nil
}

// Get returns a resolved definition by name.
func (l *Loader) Get(name string) (*core.WorkflowDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.defs[name]
	return d, ok
}

// Names returns every loaded workflow name, sorted.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.defs))
	for n := range l.defs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Watch starts an fsnotify watch over the loader's directories, calling
// Load() (and onReload, if non-nil) on any write/create/rename event.
// Watch errors are logged by the caller via the returned error channel's
// drain loop; this method itself only wires the watcher up.
func (l *Loader) Watch(onReload func(error)) (func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating workflow watcher: %w", err)
	}
	for _, dir := range l.dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	l.watch = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				err := l.Load()
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if onReload != nil {
					onReload(err)
				}
			}
		}
	}()

	return w.Close, nil
}

// phaseDeclarationOrder extracts the `phases:` mapping's key order directly
// from the YAML document tree, since decoding into a Go map loses it.
func phaseDeclarationOrder(data []byte) []core.Phase {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "phases" {
			continue
		}
		phasesNode := root.Content[i+1]
		if phasesNode.Kind != yaml.MappingNode {
			return nil
		}
		order := make([]core.Phase, 0, len(phasesNode.Content)/2)
		for j := 0; j+1 < len(phasesNode.Content); j += 2 {
			order = append(order, core.Phase(phasesNode.Content[j].Value))
		}
		return order
	}
	return nil
}

// checkExtendsCycles runs iterative DFS with an explicit visiting set over
// the extends graph so a cycle error names the precise path (spec.md §9),
// e.g. "A -> B -> A".
func checkExtendsCycles(defs map[string]*core.WorkflowDefinition) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(defs))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return core.ErrValidation(core.CodeWorkflowCycle,
				fmt.Sprintf("workflow extends cycle: %s", strings.Join(append(path, name), " -> ")))
		}
		def, ok := defs[name]
		if !ok || def.Extends == "" {
			state[name] = done
			return nil
		}
		state[name] = visiting
		if err := visit(def.Extends, append(path, name)); err != nil {
			return err
		}
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(defs))
	for n := range defs {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return err
		}
	}
	return nil
}

// resolveExtends deep-merges name's ancestor chain into a single
// definition, child values winning except on_enter/on_exit, which
// concatenate parent-then-child (spec.md §8 scenario 6's "append" policy).
func resolveExtends(name string, raw map[string]*core.WorkflowDefinition, seen map[string]bool) (*core.WorkflowDefinition, error) {
	def, ok := raw[name]
	if !ok {
		return nil, core.ErrNotFound("workflow_definition", name)
	}
	if def.Extends == "" {
		return cloneDef(def), nil
	}
	if seen[name] {
		return nil, core.ErrValidation(core.CodeWorkflowCycle, fmt.Sprintf("workflow extends cycle at %s", name))
	}
	seen[name] = true

	parent, err := resolveExtends(def.Extends, raw, seen)
	if err != nil {
		return nil, err
	}

	merged := cloneDef(parent)
	merged.Name = def.Name
	merged.Type = def.Type
	merged.Extends = def.Extends
	merged.SourcePath = def.SourcePath
	if def.Description != "" {
		merged.Description = def.Description
	}
	if def.EntryPhase != "" {
		merged.EntryPhase = def.EntryPhase
	}
	for k, v := range def.Variables {
		merged.Variables[k] = v
	}
	for _, name := range def.PhaseOrder {
		childPhase := def.Phases[name]
		parentPhase, existed := merged.Phases[name]
		if !existed {
			merged.Phases[name] = clonePhase(childPhase)
			merged.PhaseOrder = append(merged.PhaseOrder, name)
			continue
		}
		merged.Phases[name] = mergePhase(parentPhase, childPhase)
	}
	return merged, nil
}

func mergePhase(parent, child *core.PhaseDefinition) *core.PhaseDefinition {
	out := clonePhase(parent)
	if len(child.AllowedTools) > 0 {
		out.AllowedTools = append([]string{}, child.AllowedTools...)
	}
	if len(child.BlockedTools) > 0 {
		out.BlockedTools = append([]string{}, child.BlockedTools...)
	}
	if len(child.Rules) > 0 {
		out.Rules = append([]core.Rule{}, child.Rules...)
	}
	if len(child.ExitConditions) > 0 {
		out.ExitConditions = append([]string{}, child.ExitConditions...)
	}
	if len(child.Transitions) > 0 {
		out.Transitions = append([]core.Transition{}, child.Transitions...)
	}
	out.OnEnter = append(append([]string{}, parent.OnEnter...), child.OnEnter...)
	out.OnExit = append(append([]string{}, parent.OnExit...), child.OnExit...)
	return out
}

func cloneDef(d *core.WorkflowDefinition) *core.WorkflowDefinition {
	out := &core.WorkflowDefinition{
		Name:        d.Name,
		Type:        d.Type,
		Extends:     d.Extends,
		Description: d.Description,
		EntryPhase:  d.EntryPhase,
		SourcePath:  d.SourcePath,
		Global:      d.Global,
		Variables:   make(map[string]any, len(d.Variables)),
		Phases:      make(map[core.Phase]*core.PhaseDefinition, len(d.Phases)),
		PhaseOrder:  append([]core.Phase{}, d.PhaseOrder...),
	}
	for k, v := range d.Variables {
		out.Variables[k] = v
	}
	ordered := make(map[core.Phase]bool, len(d.PhaseOrder))
	for _, name := range d.PhaseOrder {
		if p, ok := d.Phases[name]; ok {
			out.Phases[name] = clonePhase(p)
			ordered[name] = true
		}
	}
	// Any phase not captured by the declaration-order scan (e.g. Validate
	// ran against a hand-built definition rather than loaded YAML) is
	// appended in sorted order so no phase is silently dropped.
	var rest []string
	for name := range d.Phases {
		if !ordered[name] {
			rest = append(rest, string(name))
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		p := d.Phases[core.Phase(name)]
		out.Phases[core.Phase(name)] = clonePhase(p)
		out.PhaseOrder = append(out.PhaseOrder, core.Phase(name))
	}
	return out
}

func clonePhase(p *core.PhaseDefinition) *core.PhaseDefinition {
	return &core.PhaseDefinition{
		Name:           p.Name,
		AllowedTools:   append([]string{}, p.AllowedTools...),
		BlockedTools:   append([]string{}, p.BlockedTools...),
		Rules:          append([]core.Rule{}, p.Rules...),
		OnEnter:        append([]string{}, p.OnEnter...),
		OnExit:         append([]string{}, p.OnExit...),
		ExitConditions: append([]string{}, p.ExitConditions...),
		Transitions:    append([]core.Transition{}, p.Transitions...),
	}
}
