// Package channel owns the realtime channel lifecycle bound to one
// authenticated session: it opens the room channel, routes presence
// snapshots, typing broadcasts, and store insert notifications to the
// coordination components, and tears everything down when the session ends.
package channel

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/roomline/chat-client/internal/auth"
	"github.com/roomline/chat-client/internal/presence"
	"github.com/roomline/chat-client/internal/protocol"
	"github.com/roomline/chat-client/internal/reconcile"
	"github.com/roomline/chat-client/internal/timeout"
	"github.com/roomline/chat-client/internal/transport"
	"github.com/roomline/chat-client/internal/typing"
)

// RoomLobby is the single shared room identifier. All users join the same
// logical room; there is no per-conversation routing.
const RoomLobby = "lobby"

// State is the channel session lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Store is the durable message log plus its insert-notification stream.
type Store interface {
	List(ctx context.Context) ([]reconcile.Message, error)
	Insert(ctx context.Context, msg reconcile.Message) error

	// OnInsert registers a callback fired for every row inserted by any
	// client, self included. The returned function unsubscribes.
	OnInsert(fn func(reconcile.Message)) (func(), error)
}

// Config holds tunable parameters for a channel session.
type Config struct {
	Room        string        // room identifier; defaults to RoomLobby
	Typing      typing.Config // debounce/expiry windows
	LoadTimeout time.Duration // timeout for the initial message load
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Room:        RoomLobby,
		Typing:      typing.DefaultConfig(),
		LoadTimeout: 10 * time.Second,
	}
}

// Hooks are the session's outbound effects on the surrounding application.
// Any hook may be nil. Hooks are invoked from the manager's run loop or
// from component goroutines and must not call back into the manager
// synchronously.
type Hooks struct {
	ClearInput   func()            // input accepted, clear the compose box
	RestoreInput func(body string) // send failed, restore the unsent text
	OnChange     func()            // any snapshot (messages/typing/presence) changed
	OnStatus     func(State)       // lifecycle state changed
}

// Manager owns one realtime channel bound to one session. All inbound
// transport events are serialized onto a single run loop; the coordination
// components are additionally internally synchronized so that timer
// callbacks and UI calls interleave safely. A closed manager drops every
// late event (liveness guard), so no task started after teardown can
// mutate the since-reset state.
type Manager struct {
	config    Config
	session   auth.Session
	store     Store
	hooks     Hooks

	timers     *timeout.Registry
	presence   *presence.Tracker
	typing     *typing.Coordinator
	reconciler *reconcile.Reconciler
	ch         transport.Channel

	calls chan func()
	done  chan struct{}

	mu     sync.Mutex
	state  State
	closed bool
	unsubs []func()
}

// channelBroadcaster adapts a transport channel to the typing
// coordinator's Broadcaster.
type channelBroadcaster struct {
	ch transport.Channel
}

func (b channelBroadcaster) Broadcast(event string, payload interface{}) error {
	return b.ch.Send(event, payload)
}

// NewManager constructs a manager for the given session. State for timers,
// typing, and presence is created fresh here and discarded wholesale on
// Close; nothing is shared across sessions.
func NewManager(config Config, session auth.Session, tr transport.Transport, store Store, hooks Hooks) *Manager {
	if config.Room == "" {
		config.Room = RoomLobby
	}

	m := &Manager{
		config:  config,
		session: session,
		store:   store,
		hooks:   hooks,
		timers:  timeout.NewRegistry(),
		calls:   make(chan func(), 256),
		done:    make(chan struct{}),
	}

	m.presence = presence.NewTracker()
	m.ch = tr.Open(config.Room, session.UserID)
	m.typing = typing.NewCoordinator(config.Typing, session, channelBroadcaster{m.ch}, m.timers, m.notifyChange)
	m.reconciler = reconcile.NewReconciler(session, store, reconcile.Hooks{
		StopTyping:   func() { m.typing.NotifyStopTyping() },
		ClearInput:   hooks.ClearInput,
		OnSendFailed: hooks.RestoreInput,
		OnChange:     m.notifyChange,
	}, m.post)

	return m
}

// Start launches the run loop and begins connecting.
func (m *Manager) Start() {
	go m.loop()
	m.post(m.connect)
}

// connect wires transport and store callbacks and subscribes the channel.
// Runs on the loop.
func (m *Manager) connect() {
	m.setState(StateConnecting)
	log.Printf("channel: connecting room=%s user=%s", m.config.Room, m.session.UserID)

	m.ch.OnPresenceSync(func(snapshot map[string]protocol.PresenceMeta) {
		m.post(func() {
			m.presence.Apply(snapshot)
			m.notifyChange()
		})
	})

	m.ch.OnBroadcast(protocol.EventTyping, func(raw json.RawMessage) {
		m.post(func() {
			ev, err := protocol.ParseTypingEvent(raw)
			if err != nil {
				log.Printf("channel: dropped typing broadcast: %v", err)
				return
			}
			m.typing.HandleTyping(ev)
		})
	})

	m.ch.OnBroadcast(protocol.EventStopTyping, func(raw json.RawMessage) {
		m.post(func() {
			ev, err := protocol.ParseStopTypingEvent(raw)
			if err != nil {
				log.Printf("channel: dropped stop_typing broadcast: %v", err)
				return
			}
			m.typing.HandleStopTyping(ev)
		})
	})

	unsub, err := m.store.OnInsert(func(msg reconcile.Message) {
		m.post(func() {
			m.reconciler.HandleRemoteInsert(msg)
			// A message from a peer implies that peer stopped typing, even
			// when the stop signal never arrived.
			m.typing.HandleMessageFrom(msg.UserID)
		})
	})
	if err != nil {
		// Degraded liveness: sends still work, peer messages appear only
		// after the next full load.
		log.Printf("channel: insert notifications unavailable: %v", err)
	} else {
		m.unsubs = append(m.unsubs, unsub)
	}

	m.ch.Subscribe(func(status transport.Status) {
		m.post(func() { m.handleStatus(status) })
	})

	go m.load()
}

// load seeds the message view from the store.
func (m *Manager) load() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.LoadTimeout)
	defer cancel()

	if err := m.reconciler.Load(ctx); err != nil {
		log.Printf("channel: initial load failed: %v", err)
	}
}

// handleStatus applies a transport status report. Runs on the loop.
func (m *Manager) handleStatus(status transport.Status) {
	switch status {
	case transport.StatusSubscribed:
		m.setState(StateSubscribed)
		log.Printf("channel: subscribed room=%s user=%s", m.config.Room, m.session.UserID)

		// Announce presence now that the subscription is live.
		if err := m.ch.Track(protocol.PresenceMeta{
			DisplayName: m.session.DisplayName,
			AvatarURL:   m.session.AvatarURL,
		}); err != nil {
			log.Printf("channel: presence track failed: %v", err)
		}

	case transport.StatusError, transport.StatusTimedOut:
		// Reportable condition for the surrounding app; no automatic
		// reconnect.
		log.Printf("channel: subscription failed room=%s status=%s", m.config.Room, status)
		m.setState(StateDisconnected)
	}
}

// ---------------------------------------------------------------------------
// UI-facing operations
// ---------------------------------------------------------------------------

// Send performs an optimistic send of body. No-op after Close. The
// background write carries its own timeout inside the reconciler.
func (m *Manager) Send(body string) {
	if m.isClosed() {
		return
	}
	m.reconciler.Send(context.Background(), body)
}

// NotifyTyping re-broadcasts the typing signal. Call on every keystroke.
func (m *Manager) NotifyTyping() {
	if m.isClosed() {
		return
	}
	m.typing.NotifyTyping()
}

// NotifyStopTyping broadcasts an explicit stop signal. Call when the input
// empties or loses focus.
func (m *Manager) NotifyStopTyping() {
	if m.isClosed() {
		return
	}
	m.typing.NotifyStopTyping()
}

// Messages returns the current ordered message snapshot.
func (m *Manager) Messages() []reconcile.Message {
	return m.reconciler.Messages()
}

// Typing returns the current typing peers.
func (m *Manager) Typing() []typing.Entry {
	return m.typing.Typing()
}

// Online returns the current presence snapshot.
func (m *Manager) Online() []string {
	return m.presence.Online()
}

// Session returns the session this manager is bound to.
func (m *Manager) Session() auth.Session {
	return m.session
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close tears the session down: best-effort self stop_typing broadcast,
// cancel all timers, clear typing and presence state, detach store
// listeners, release the channel, stop the loop. Idempotent; events posted
// after Close are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	m.typing.NotifyStopTyping()
	m.timers.ClearAll()
	m.typing.Reset()
	m.presence.Clear()
	for _, unsub := range unsubs {
		unsub()
	}
	m.ch.Close()
	close(m.done)

	m.setState(StateDisconnected)
	log.Printf("channel: closed room=%s user=%s", m.config.Room, m.session.UserID)
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

// loop executes posted events one at a time until Close.
func (m *Manager) loop() {
	for {
		select {
		case <-m.done:
			return
		default:
		}
		select {
		case <-m.done:
			return
		case fn := <-m.calls:
			fn()
		}
	}
}

// post schedules fn on the run loop. Posts after Close are dropped.
func (m *Manager) post(fn func()) {
	if m.isClosed() {
		return
	}
	select {
	case m.calls <- fn:
	case <-m.done:
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()

	if changed && m.hooks.OnStatus != nil {
		m.hooks.OnStatus(s)
	}
}

func (m *Manager) notifyChange() {
	if m.hooks.OnChange != nil {
		m.hooks.OnChange()
	}
}
