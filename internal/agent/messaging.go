package agent

import (
	"context"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
	"github.com/gobbyhq/gobby/internal/events"
)

// SendToParent delivers a message from a child agent session to its parent,
// per spec.md §4.6 Inter-agent messages.
func (o *Orchestrator) SendToParent(ctx context.Context, fromSessionID, toSessionID core.SessionID, content string, priority core.MessagePriority) (*core.InterSessionMessage, error) {
	return o.sendMessage(ctx, fromSessionID, toSessionID, content, priority)
}

// SendToChild delivers a message from a parent session to a specific
// running agent's child session, identified by run ID.
func (o *Orchestrator) SendToChild(ctx context.Context, fromSessionID core.SessionID, runID, content string, priority core.MessagePriority) (*core.InterSessionMessage, error) {
	run, err := o.store.GetAgentRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.ChildSessionID == nil {
		return nil, core.ErrValidation("AGENT_RUN_NO_CHILD_SESSION", "agent run has no child session to message")
	}
	return o.sendMessage(ctx, fromSessionID, *run.ChildSessionID, content, priority)
}

func (o *Orchestrator) sendMessage(ctx context.Context, from, to core.SessionID, content string, priority core.MessagePriority) (*core.InterSessionMessage, error) {
	msg := &core.InterSessionMessage{
		ID:            newID("msg"),
		FromSessionID: from,
		ToSessionID:   to,
		Content:       content,
		Priority:      priority,
		SentAt:        time.Now(),
	}
	if err := o.store.SendMessage(ctx, msg); err != nil {
		return nil, err
	}
	o.bus.Publish(events.NewMessageSentEvent(string(from), "", msg.ID, string(to), string(priority)))
	return msg, nil
}

// PollMessages returns messages addressed to sessionID. peerSessionID, if
// non-empty, scopes the result to the conversation with that one peer and
// includes already-read messages; otherwise only unread messages across all
// peers are returned (spec.md §4.6 poll_messages).
func (o *Orchestrator) PollMessages(ctx context.Context, sessionID, peerSessionID core.SessionID) ([]*core.InterSessionMessage, error) {
	if peerSessionID != "" {
		return o.store.ListMessagesBetween(ctx, sessionID, peerSessionID)
	}
	return o.store.ListUnreadMessages(ctx, sessionID)
}

// MarkMessageRead acknowledges a delivered message.
func (o *Orchestrator) MarkMessageRead(ctx context.Context, messageID string) error {
	return o.store.MarkMessageRead(ctx, messageID, time.Now())
}
