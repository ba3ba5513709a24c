package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
)

// StatusLog records the last known status of every message.
type StatusLog struct {
	db  *DB
	now func() time.Time
}

// NewStatusLog creates a status log on db.
func NewStatusLog(db *DB) *StatusLog {
	return &StatusLog{db: db, now: time.Now}
}

// Attach records every terminal message status published on bus.
func (l *StatusLog) Attach(bus *events.Bus) {
	events.Subscribe(bus, "store", func(ctx context.Context, ev events.MessageStatus) error {
		if !ev.Message.Status.Terminal() {
			return nil
		}
		return l.Record(ctx, ev.Message)
	})
}

// Detach stops recording.
func (l *StatusLog) Detach(bus *events.Bus) {
	bus.Off(events.KindMessageStatus, "store")
}

// Record inserts msg or updates the row with the same ID.
func (l *StatusLog) Record(ctx context.Context, msg domain.Message) error {
	received := msg.Timestamp
	if received.IsZero() {
		received = l.now()
	}
	_, err := l.db.sql.ExecContext(ctx, l.db.rebind(
		`INSERT INTO message_status (id, user_id, source, status, sender, content, reply, error, received_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status,
		   reply = excluded.reply,
		   error = excluded.error,
		   updated_at = excluded.updated_at`),
		msg.ID, msg.UserID, string(msg.Source), string(msg.Status), msg.From,
		msg.Content, msg.Reply, msg.Error, received.UnixMilli(), l.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording message %s: %w", msg.ID, err)
	}
	return nil
}

// Get returns the recorded message with the given ID.
func (l *StatusLog) Get(ctx context.Context, id string) (domain.Message, bool, error) {
	row := l.db.sql.QueryRowContext(ctx, l.db.rebind(
		`SELECT id, user_id, source, status, sender, content, reply, error, received_at
		 FROM message_status WHERE id = ?`), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("loading message %s: %w", id, err)
	}
	return msg, true, nil
}

// Recent returns up to n messages for userID, newest first. An empty userID
// matches every user.
func (l *StatusLog) Recent(ctx context.Context, userID string, n int) ([]domain.Message, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id, user_id, source, status, sender, content, reply, error, received_at
		FROM message_status`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY received_at DESC, id DESC LIMIT ?`
	args = append(args, n)

	rows, err := l.db.sql.QueryContext(ctx, l.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Counts returns the number of messages per status. An empty userID counts
// every user.
func (l *StatusLog) Counts(ctx context.Context, userID string) (map[domain.MessageStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM message_status`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY status`

	rows, err := l.db.sql.QueryContext(ctx, l.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.MessageStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.MessageStatus(status)] = n
	}
	return counts, rows.Err()
}

// Prune deletes records last updated before cutoff and returns how many
// were removed.
func (l *StatusLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.sql.ExecContext(ctx, l.db.rebind(`DELETE FROM message_status WHERE updated_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning status log: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (domain.Message, error) {
	var (
		msg              domain.Message
		source, status   string
		receivedAtMillis int64
	)
	err := s.Scan(&msg.ID, &msg.UserID, &source, &status, &msg.From,
		&msg.Content, &msg.Reply, &msg.Error, &receivedAtMillis)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Source = domain.MessageSource(source)
	msg.Status = domain.MessageStatus(status)
	msg.Timestamp = time.UnixMilli(receivedAtMillis)
	return msg, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
