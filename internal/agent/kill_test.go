package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/gobbyhq/gobby/internal/agent"
	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/testutil"
)

func TestOrchestrator_Kill_RegisteredRunDelegatesToRunningAgent(t *testing.T) {
	orch, _, proj := newOrchestratorFixture(t)

	blocked := &fakeRunningAgent{done: make(chan struct{})}
	fake := &fakeSpawner{mode: core.SpawnModeHeadless, agent: blocked}
	orch.WithSpawner(fake)

	result, err := orch.SpawnAgent(context.Background(), agent.SpawnRequest{
		ParentSessionID: "sess-1",
		ProjectID:       proj.ID,
		Agent:           "generic",
		Prompt:          "long running task",
		Isolation:       core.IsolationCurrent,
		Mode:            core.SpawnModeHeadless,
	})
	testutil.AssertNoError(t, err)

	alreadyDead, err := orch.Kill(context.Background(), result.Run.ID, 2*time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, alreadyDead, "fakeRunningAgent.Kill reports the process as still having been live")
}

func TestOrchestrator_Kill_TerminalRunIsAlreadyDead(t *testing.T) {
	orch, st, proj := newOrchestratorFixture(t)

	fake := &fakeSpawner{mode: core.SpawnModeHeadless, agent: newFakeRunningAgent(&core.ExecuteResult{Output: "ok"}, nil)}
	orch.WithSpawner(fake)

	result, err := orch.SpawnAgent(context.Background(), agent.SpawnRequest{
		ParentSessionID: "sess-1",
		ProjectID:       proj.ID,
		Agent:           "generic",
		Prompt:          "quick task",
		Isolation:       core.IsolationCurrent,
		Mode:            core.SpawnModeHeadless,
	})
	testutil.AssertNoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.GetAgentRun(context.Background(), result.Run.ID)
		testutil.AssertNoError(t, err)
		if run.Status == core.AgentRunStatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	alreadyDead, err := orch.Kill(context.Background(), result.Run.ID, time.Second)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, alreadyDead, "killing a completed run should report already_dead")
}
