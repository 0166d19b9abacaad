package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/gobbyhq/gobby/internal/core"
)

// SendMessage inserts a new inter-session message, delivered at-least-once:
// the row is durable the moment this returns, independent of whether the
// EventBus notification to the recipient is ever observed.
func (s *Store) SendMessage(ctx context.Context, m *core.InterSessionMessage) error {
	return s.retryWrite(ctx, "send message", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO inter_session_messages (id, from_session_id, to_session_id, content, priority, sent_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.FromSessionID, m.ToSessionID, m.Content, m.Priority, formatTime(m.SentAt), toNullTime(m.ReadAt))
		return err
	})
}

// ListUnreadMessages returns every unread message addressed to a session,
// oldest first.
func (s *Store) ListUnreadMessages(ctx context.Context, toSessionID core.SessionID) ([]*core.InterSessionMessage, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, from_session_id, to_session_id, content, priority, sent_at, read_at
		FROM inter_session_messages WHERE to_session_id = ? AND read_at IS NULL ORDER BY sent_at`, toSessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMessagesBetween returns the full conversation between two sessions,
// in either direction, oldest first.
func (s *Store) ListMessagesBetween(ctx context.Context, a, b core.SessionID) ([]*core.InterSessionMessage, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, from_session_id, to_session_id, content, priority, sent_at, read_at
		FROM inter_session_messages
		WHERE (from_session_id = ? AND to_session_id = ?) OR (from_session_id = ? AND to_session_id = ?)
		ORDER BY sent_at`, a, b, b, a)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkMessageRead records a message as read at readAt. Idempotent at the
// store layer too: a second call is a harmless no-op UPDATE.
func (s *Store) MarkMessageRead(ctx context.Context, id string, readAt time.Time) error {
	return s.retryWrite(ctx, "mark message read", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE inter_session_messages SET read_at = ? WHERE id = ? AND read_at IS NULL`,
			formatTime(readAt), id)
		return err
	})
}

func scanMessages(rows *sql.Rows) ([]*core.InterSessionMessage, error) {
	var out []*core.InterSessionMessage
	for rows.Next() {
		var m core.InterSessionMessage
		var sentAt string
		var readAt sql.NullString
		if err := rows.Scan(&m.ID, &m.FromSessionID, &m.ToSessionID, &m.Content, &m.Priority, &sentAt, &readAt); err != nil {
			return nil, err
		}
		var err error
		if m.SentAt, err = parseTime(sentAt); err != nil {
			return nil, err
		}
		if m.ReadAt, err = fromNullTime(readAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
