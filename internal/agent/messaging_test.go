package agent_test

import (
	"context"
	"testing"

	"github.com/gobbyhq/gobby/internal/agent"
	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/testutil"
)

func TestOrchestrator_Messaging_SendAndPoll(t *testing.T) {
	orch, _, _ := newOrchestratorFixture(t)

	msg, err := orch.SendToParent(context.Background(), "child-sess", "parent-sess", "status update", core.MessagePriorityNormal)
	testutil.AssertNoError(t, err)
	if msg.Content != "status update" {
		t.Fatalf("Content = %q, want %q", msg.Content, "status update")
	}

	unread, err := orch.PollMessages(context.Background(), "parent-sess", "")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, unread, 1)

	testutil.AssertNoError(t, orch.MarkMessageRead(context.Background(), msg.ID))

	unread, err = orch.PollMessages(context.Background(), "parent-sess", "")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, unread, 0)

	history, err := orch.PollMessages(context.Background(), "parent-sess", "child-sess")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, history, 1)
}
