package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/gobbyhq/gobby/internal/core"
)

// sessionIDPattern guards kill()'s process-scan fallback: the session ID is
// matched against a spawned process's command line, so it must be validated
// before use the same way any externally-influenced string feeding a
// system-level lookup would be (spec.md §4.6 Kill security note).
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ErrProcessNotFound is returned when no live process can be resolved for a
// run, either by recorded PID or by session-ID scan.
var ErrProcessNotFound = errors.New("agent: process not found")

// Kill terminates the agent run identified by runID: TERM first, escalating
// to KILL after grace if the process is still alive. PID resolution is
// tiered per spec.md §4.6 Kill — the live registry entry first, then the
// AgentRun's recorded PID, then (for terminal/headless spawns that outlived
// a daemon restart) a gopsutil process scan matched against the run's
// session ID.
func (o *Orchestrator) Kill(ctx context.Context, runID string, grace time.Duration) (alreadyDead bool, err error) {
	if entry, ok := o.registry.get(runID); ok {
		dead, err := entry.running.Kill(ctx, grace)
		if err == nil {
			o.registry.remove(runID)
		}
		return dead, err
	}

	run, err := o.store.GetAgentRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if run.IsTerminal() {
		return true, nil
	}

	pid, err := o.resolvePID(ctx, run)
	if err != nil {
		if errors.Is(err, ErrProcessNotFound) {
			run.MarkKilled(true)
			_ = o.store.UpdateAgentRun(ctx, run)
			return true, nil
		}
		return false, err
	}

	dead, err := killProcess(pid, grace)
	if err == nil {
		run.MarkKilled(dead)
		_ = o.store.UpdateAgentRun(ctx, run)
	}
	return dead, err
}

// resolvePID finds a live process for a run that isn't in the in-memory
// registry (e.g. because the daemon restarted). It never trusts the run's
// own ID or session ID as a shell fragment — only as a substring matched
// against each candidate process's validated, already-tokenized argv.
func (o *Orchestrator) resolvePID(ctx context.Context, run *core.AgentRun) (int32, error) {
	sessionID := ""
	if run.ChildSessionID != nil {
		sessionID = string(*run.ChildSessionID)
	}
	if sessionID == "" || !sessionIDPattern.MatchString(sessionID) {
		return 0, ErrProcessNotFound
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, sessionID) {
			return p.Pid, nil
		}
	}
	return 0, ErrProcessNotFound
}

// killProcess sends TERM, waits up to grace for exit, then sends KILL.
func killProcess(pid int, grace time.Duration) (alreadyDead bool, err error) {
	if pid <= 0 {
		return true, nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return true, nil
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return true, nil
	}

	if err := p.Terminate(); err != nil && !isNoSuchProcess(err) {
		return false, fmt.Errorf("sending SIGTERM to pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunning()
		if err != nil || !running {
			return false, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := p.Kill(); err != nil && !isNoSuchProcess(err) {
		return false, fmt.Errorf("sending SIGKILL to pid %d: %w", pid, err)
	}
	return false, nil
}

func isNoSuchProcess(err error) bool {
	return errors.Is(err, syscall.ESRCH) || strings.Contains(err.Error(), "not running") || strings.Contains(strconv.Quote(err.Error()), "no such process")
}
