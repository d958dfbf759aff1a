package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roomline/chat-client/internal/auth"
	"github.com/roomline/chat-client/internal/metrics"
)

// Store is the durable message log the reconciler writes through. It is an
// append-only log with eventual-consistency read-after-write; insert-event
// delivery is wired separately by the channel session manager.
type Store interface {
	// List returns all messages ordered ascending by SentAt.
	List(ctx context.Context) ([]Message, error)

	// Insert appends one message to the log.
	Insert(ctx context.Context, msg Message) error
}

// Hooks are the reconciler's outbound effects on the surrounding session.
// Any hook may be nil.
type Hooks struct {
	// StopTyping is invoked at the start of every send: sending a message
	// implies typing has stopped.
	StopTyping func()

	// ClearInput is invoked after the optimistic insert.
	ClearInput func()

	// OnSendFailed is invoked with the exact original input text when a
	// store write fails and the optimistic message has been rolled back.
	OnSendFailed func(originalBody string)

	// OnChange is invoked after every view mutation.
	OnChange func()
}

// Reconciler coordinates optimistic local sends and peer-originated inserts
// against one View.
type Reconciler struct {
	self  auth.Session
	store Store
	view  *View
	hooks Hooks

	// run serializes asynchronous write completions with the rest of the
	// session's event handling. The session manager injects its run loop;
	// standalone use executes inline.
	run func(func())

	// now is injectable for tests.
	now func() time.Time
}

// NewReconciler creates a Reconciler for the given session. run may be nil,
// in which case completions execute on the writer goroutine.
func NewReconciler(self auth.Session, store Store, hooks Hooks, run func(func())) *Reconciler {
	if run == nil {
		run = func(fn func()) { fn() }
	}
	return &Reconciler{
		self:  self,
		store: store,
		view:  NewView(),
		hooks: hooks,
		run:   run,
		now:   time.Now,
	}
}

// Load seeds the view from the store, replacing it wholesale. This is the
// only non-incremental write path into the view; everything after session
// establishment merges incrementally.
func (r *Reconciler) Load(ctx context.Context) error {
	msgs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: initial load: %w", err)
	}
	for i := range msgs {
		msgs[i].Status = StatusConfirmed
	}
	r.view.Replace(msgs)
	r.notify()
	return nil
}

// Send performs an optimistic send: the message is visible immediately with
// a fresh client-generated ID, then persisted asynchronously. A failed write
// is compensated by removing the message and restoring the input text via
// OnSendFailed; the failure is never surfaced to the caller. Empty (after
// trimming) or invalid bodies are no-ops.
func (r *Reconciler) Send(ctx context.Context, body string) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || r.self.UserID == "" {
		return
	}
	if err := ValidateBody(trimmed); err != nil {
		log.Printf("[reconcile] rejected send: %v", err)
		return
	}

	if r.hooks.StopTyping != nil {
		r.hooks.StopTyping()
	}

	msg := Message{
		ID:          uuid.New(),
		UserID:      r.self.UserID,
		DisplayName: r.self.DisplayName,
		AvatarURL:   r.self.AvatarURL,
		Body:        trimmed,
		SentAt:      r.now(),
		Status:      StatusPending,
	}
	r.view.Insert(msg)
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	if r.hooks.ClearInput != nil {
		r.hooks.ClearInput()
	}
	r.notify()

	pending := PendingSend{ID: msg.ID, OriginalBody: body}
	go r.persist(ctx, msg, pending)
}

// writeTimeout bounds the asynchronous store write. The optimistic entry
// stays pending until the write resolves one way or the other.
const writeTimeout = 10 * time.Second

// persist runs the asynchronous store write and re-enters the session's
// event serialization to apply the confirm or rollback. The write carries
// its own timeout since it outlives the Send call.
func (r *Reconciler) persist(parent context.Context, msg Message, pending PendingSend) {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()

	start := time.Now()
	err := r.store.Insert(ctx, msg)
	metrics.SendLatency.Observe(time.Since(start).Seconds())

	r.run(func() {
		if err != nil {
			// Compensating action, not a retry: drop the optimistic entry
			// and hand the unsent text back to the input.
			r.view.Remove(pending.ID)
			metrics.MessagesTotal.WithLabelValues("rolled_back").Inc()
			log.Printf("[reconcile] store write failed for message %s, rolled back: %v", pending.ID, err)
			if r.hooks.OnSendFailed != nil {
				r.hooks.OnSendFailed(pending.OriginalBody)
			}
		} else {
			r.view.Confirm(msg.ID)
			metrics.MessagesTotal.WithLabelValues("confirmed").Inc()
		}
		r.notify()
	})
}

// HandleRemoteInsert merges a store insert notification into the view.
// Self-originated rows are ignored outright: the optimistic path already
// represents them, and filtering on UserID rather than ID makes the echo's
// timing relative to the optimistic insert irrelevant.
func (r *Reconciler) HandleRemoteInsert(msg Message) {
	if msg.UserID == "" || msg.UserID == r.self.UserID {
		return
	}
	msg.Status = StatusConfirmed
	if !r.view.Insert(msg) {
		metrics.MessagesTotal.WithLabelValues("deduped").Inc()
		return
	}
	r.notify()
}

// Messages returns a copy of the ordered message view.
func (r *Reconciler) Messages() []Message {
	return r.view.Messages()
}

func (r *Reconciler) notify() {
	if r.hooks.OnChange != nil {
		r.hooks.OnChange()
	}
}
