package agent

import (
	"sync"

	"github.com/gobbyhq/gobby/internal/core"
)

// runEntry is the in-memory registry's record for one live spawn, keyed by
// run_id (spec.md §4.6 step 8).
type runEntry struct {
	mode      core.SpawnMode
	running   core.RunningAgent
	sessionID core.SessionID
	taskID    *core.TaskID
	cleanup   func()
}

// registry is the AgentOrchestrator's in-memory map of live runs. It is
// deliberately not persisted: on daemon restart, kill()'s tiered PID
// resolution falls back to the Store's AgentRun.terminal_context instead
// (spec.md §4.6 Kill).
type registry struct {
	mu      sync.RWMutex
	entries map[string]*runEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*runEntry)}
}

func (r *registry) put(runID string, e *runEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[runID] = e
}

func (r *registry) get(runID string) (*runEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[runID]
	return e, ok
}

func (r *registry) remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, runID)
}

func (r *registry) list() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
