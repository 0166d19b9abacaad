package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/gobbyhq/gobby/internal/core"
)

// Compile-time interface conformance checks.
var (
	_ core.Spawner = (*HeadlessSpawner)(nil)
	_ core.Spawner = (*TerminalSpawner)(nil)
	_ core.Spawner = (*EmbeddedSpawner)(nil)
	_ core.Spawner = (*InProcessExecutor)(nil)
)

// processRunningAgent is the core.RunningAgent shared by every Spawner that
// tracks a real OS process (headless, terminal, embedded); only how the
// process is started and how its output is captured differs between them.
type processRunningAgent struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	pid    int
	output *bytes.Buffer
	done   chan error
	pty    *os.File // non-nil for EmbeddedSpawner
}

func (a *processRunningAgent) PID() int { return a.pid }

func (a *processRunningAgent) Wait(ctx context.Context) (*core.ExecuteResult, error) {
	select {
	case err := <-a.done:
		a.mu.Lock()
		out := a.output.String()
		a.mu.Unlock()
		result := &core.ExecuteResult{Output: out, FinishReason: "completed"}
		if err != nil {
			result.FinishReason = "error"
			return result, err
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *processRunningAgent) Kill(ctx context.Context, grace time.Duration) (bool, error) {
	return killProcess(a.pid, grace)
}

// HeadlessSpawner runs the agent CLI as a subprocess with stdout/stderr
// captured into the session transcript and its PID recorded (spec.md §4.6
// step 7).
type HeadlessSpawner struct{}

func NewHeadlessSpawner() *HeadlessSpawner { return &HeadlessSpawner{} }

func (s *HeadlessSpawner) Mode() core.SpawnMode { return core.SpawnModeHeadless }

func (s *HeadlessSpawner) Spawn(ctx context.Context, spec core.SpawnSpec) (core.RunningAgent, error) {
	cmd := buildCLICommand(ctx, spec)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting headless agent: %w", err)
	}

	agent := &processRunningAgent{cmd: cmd, pid: cmd.Process.Pid, output: &out, done: make(chan error, 1)}
	go func() { agent.done <- cmd.Wait() }()
	return agent, nil
}

// TerminalSpawner opens the user's terminal with the CLI command in the
// spawn's work directory. PID capture is best-effort: the terminal launcher
// itself typically exits immediately, so the inner CLI's PID must be found
// later by kill()'s process-finder fallback (spec.md §4.6 Kill, scenario 4).
type TerminalSpawner struct{}

func NewTerminalSpawner() *TerminalSpawner { return &TerminalSpawner{} }

func (s *TerminalSpawner) Mode() core.SpawnMode { return core.SpawnModeTerminal }

func (s *TerminalSpawner) Spawn(ctx context.Context, spec core.SpawnSpec) (core.RunningAgent, error) {
	launcher, args := terminalLauncher(spec)
	cmd := exec.CommandContext(ctx, launcher, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = buildEnv(spec)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting terminal agent: %w", err)
	}

	agent := &processRunningAgent{cmd: cmd, pid: cmd.Process.Pid, output: &bytes.Buffer{}, done: make(chan error, 1)}
	go func() { agent.done <- cmd.Wait() }()
	return agent, nil
}

// terminalLauncher picks the platform terminal launcher command, matching
// spec.md §4.6 step 7's "opens the user's terminal with the CLI command and
// worktree cwd".
func terminalLauncher(spec core.SpawnSpec) (string, []string) {
	inner := spec.Provider + " " + spec.Prompt
	switch runtime.GOOS {
	case "darwin":
		return "osascript", []string{"-e", fmt.Sprintf(`tell application "Terminal" to do script %q`, "cd "+spec.WorkDir+" && "+inner)}
	case "windows":
		return "cmd", []string{"/C", "start", "cmd", "/K", inner}
	default:
		return "x-terminal-emulator", []string{"-e", inner}
	}
}

// EmbeddedSpawner allocates a pseudo-terminal via creack/pty for UI
// attachment (spec.md §4.6 step 7).
type EmbeddedSpawner struct{}

func NewEmbeddedSpawner() *EmbeddedSpawner { return &EmbeddedSpawner{} }

func (s *EmbeddedSpawner) Mode() core.SpawnMode { return core.SpawnModeEmbedded }

func (s *EmbeddedSpawner) Spawn(ctx context.Context, spec core.SpawnSpec) (core.RunningAgent, error) {
	cmd := buildCLICommand(ctx, spec)
	master, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("allocating pty for embedded agent: %w", err)
	}

	var out bytes.Buffer
	agent := &processRunningAgent{cmd: cmd, pid: cmd.Process.Pid, output: &out, done: make(chan error, 1), pty: master}
	go func() {
		_, _ = io.Copy(&out, master)
	}()
	go func() { agent.done <- cmd.Wait() }()
	return agent, nil
}

func buildCLICommand(ctx context.Context, spec core.SpawnSpec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Provider, spec.Prompt)
	cmd.Dir = spec.WorkDir
	cmd.Env = buildEnv(spec)
	return cmd
}

func buildEnv(spec core.SpawnSpec) []string {
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}
