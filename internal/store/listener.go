package store

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/roomline/chat-client/internal/reconcile"
)

// notifyChannel is the pg_notify channel raised by the messages insert
// trigger (see migrations).
const notifyChannel = "messages_insert"

// insertPayload is the JSON body the trigger attaches to each notification.
type insertPayload struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Body        string `json:"body"`
	SentAt      string `json:"sent_at"`
}

// insertListener owns one pq.Listener and the goroutine draining it.
type insertListener struct {
	pql  *pq.Listener
	done chan struct{}
}

// newInsertListener opens a dedicated listening connection and begins
// delivering insert notifications to fn. lib/pq re-establishes the
// connection itself after failures; reconnect events are logged only.
func newInsertListener(dsn string, fn func(reconcile.Message)) (*insertListener, error) {
	pql := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("[store] listener event %d: %v", ev, err)
		}
	})
	if err := pql.Listen(notifyChannel); err != nil {
		pql.Close()
		return nil, fmt.Errorf("store: listen %s: %w", notifyChannel, err)
	}

	l := &insertListener{pql: pql, done: make(chan struct{})}
	go l.drain(fn)
	return l, nil
}

// drain dispatches notifications until the listener is closed. Malformed
// payloads are dropped defensively.
func (l *insertListener) drain(fn func(reconcile.Message)) {
	for {
		select {
		case <-l.done:
			return
		case n, ok := <-l.pql.Notify:
			if !ok {
				return
			}
			if n == nil {
				// lib/pq sends nil after a reconnect; rows inserted during
				// the gap are lost, which is the documented degraded-liveness
				// failure mode.
				continue
			}
			msg, err := parseInsertPayload([]byte(n.Extra))
			if err != nil {
				log.Printf("[store] dropped insert notification: %v", err)
				continue
			}
			fn(msg)
		}
	}
}

// Close stops the drain goroutine and the underlying listener.
func (l *insertListener) Close() {
	close(l.done)
	if err := l.pql.Close(); err != nil {
		log.Printf("[store] listener close: %v", err)
	}
}

// parseInsertPayload decodes the trigger's row JSON into a confirmed
// Message.
func parseInsertPayload(data []byte) (reconcile.Message, error) {
	var p insertPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return reconcile.Message{}, fmt.Errorf("store: decode notification: %w", err)
	}
	if p.UserID == "" {
		return reconcile.Message{}, fmt.Errorf("store: notification missing user_id")
	}

	id, err := uuid.Parse(p.ID)
	if err != nil {
		return reconcile.Message{}, fmt.Errorf("store: notification bad id %q: %w", p.ID, err)
	}
	sentAt, err := time.Parse(time.RFC3339Nano, p.SentAt)
	if err != nil {
		return reconcile.Message{}, fmt.Errorf("store: notification bad sent_at %q: %w", p.SentAt, err)
	}

	return reconcile.Message{
		ID:          id,
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
		Body:        p.Body,
		SentAt:      sentAt,
		Status:      reconcile.StatusConfirmed,
	}, nil
}
