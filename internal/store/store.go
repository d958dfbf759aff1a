// Package store provides PostgreSQL-backed durable storage for chat
// messages: an append-only log queryable in timestamp order, plus a
// LISTEN/NOTIFY insert stream delivered to every connected client (the
// inserting client included).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/roomline/chat-client/internal/reconcile"
)

// Store manages the messages table in PostgreSQL.
type Store struct {
	db  *sql.DB
	dsn string
}

// Open connects to PostgreSQL, verifies the connection, and returns a ready
// Store. The DSN is retained for the insert-notification listener, which
// needs its own connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}

	return &Store{db: db, dsn: dsn}, nil
}

// List returns every message ordered ascending by sent_at (ties broken by
// id for a stable order).
func (s *Store) List(ctx context.Context) ([]reconcile.Message, error) {
	const query = `
		SELECT id, user_id, display_name, avatar_url, body, sent_at
		FROM messages
		ORDER BY sent_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var msgs []reconcile.Message
	for rows.Next() {
		var (
			m  reconcile.Message
			id string
		)
		if err := rows.Scan(&id, &m.UserID, &m.DisplayName, &m.AvatarURL, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		m.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("store: bad message id %q: %w", id, err)
		}
		m.Status = reconcile.StatusConfirmed
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return msgs, nil
}

// Insert appends one message to the log. The insert trigger fans the row
// out to every listener, the inserting client included.
func (s *Store) Insert(ctx context.Context, msg reconcile.Message) error {
	const query = `
		INSERT INTO messages (id, user_id, display_name, avatar_url, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID.String(),
		msg.UserID,
		msg.DisplayName,
		msg.AvatarURL,
		msg.Body,
		msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// OnInsert starts a LISTEN/NOTIFY subscription for message inserts and
// invokes fn for every notified row. The returned function stops the
// listener.
func (s *Store) OnInsert(fn func(reconcile.Message)) (func(), error) {
	l, err := newInsertListener(s.dsn, fn)
	if err != nil {
		return nil, err
	}
	return l.Close, nil
}

// DB returns the underlying database handle (used by the migration runner).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
