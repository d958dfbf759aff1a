// Package typing coordinates the "is typing" indicator in both directions:
// the sender side debounces a stop signal behind every keystroke broadcast,
// and the receiver side aggregates peer signals into an expiring map.
//
// The 1s sender debounce against the 3s receiver expiry is an intentional
// asymmetry: while a peer keeps typing it re-broadcasts at least once per
// second, so the receiver window never starves, and a lost stop signal
// self-heals within the expiry window.
package typing

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/roomline/chat-client/internal/auth"
	"github.com/roomline/chat-client/internal/metrics"
	"github.com/roomline/chat-client/internal/protocol"
	"github.com/roomline/chat-client/internal/timeout"
)

// Timer registry keys. The sender debounce is a singleton; receiver expiry
// timers are keyed per peer.
const (
	keySenderDebounce    = "sender-debounce"
	keyReceiverExpiryPfx = "receiver-expiry:"
)

// Broadcaster sends a named event with a JSON-serializable payload to all
// channel peers.
type Broadcaster interface {
	Broadcast(event string, payload interface{}) error
}

// Config holds the coordinator's timing parameters.
type Config struct {
	SenderDebounce time.Duration // quiet period before auto stop_typing
	ReceiverExpiry time.Duration // inactivity window before dropping a peer
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		SenderDebounce: 1 * time.Second,
		ReceiverExpiry: 3 * time.Second,
	}
}

// Entry is one peer's typing state as shown to the UI.
type Entry struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	LastSeenAt  time.Time
}

// Coordinator implements both sides of typing-indicator propagation for one
// channel session.
type Coordinator struct {
	config   Config
	self     auth.Session
	bc       Broadcaster
	timers   *timeout.Registry
	onChange func()

	mu      sync.Mutex
	entries map[string]Entry
}

// NewCoordinator creates a Coordinator for the given session. onChange is
// invoked (possibly from a timer goroutine) whenever the receiver-side state
// changes; it may be nil.
func NewCoordinator(config Config, self auth.Session, bc Broadcaster, timers *timeout.Registry, onChange func()) *Coordinator {
	return &Coordinator{
		config:   config,
		self:     self,
		bc:       bc,
		timers:   timers,
		onChange: onChange,
		entries:  make(map[string]Entry),
	}
}

// ---------------------------------------------------------------------------
// Sender side
// ---------------------------------------------------------------------------

// NotifyTyping broadcasts a typing signal and re-arms the stop debounce.
// Every call re-broadcasts; there is no send suppression, which is what
// keeps the receiver expiry window fed during continuous typing.
func (c *Coordinator) NotifyTyping() {
	ev := protocol.TypingEvent{
		UserID:      c.self.UserID,
		DisplayName: c.self.DisplayName,
		AvatarURL:   c.self.AvatarURL,
		IsTyping:    true,
	}
	if err := c.bc.Broadcast(protocol.EventTyping, ev); err != nil {
		log.Printf("[typing] broadcast typing failed: %v", err)
	}
	metrics.BroadcastsTotal.WithLabelValues(protocol.EventTyping, "out").Inc()

	c.timers.Set(keySenderDebounce, c.config.SenderDebounce, c.NotifyStopTyping)
}

// NotifyStopTyping cancels the debounce and broadcasts a stop signal.
// Called when the input empties, loses focus, a message is sent, the
// debounce elapses, or the channel is torn down. Broadcast errors are
// swallowed after logging: the receiver expiry self-heals a lost stop.
func (c *Coordinator) NotifyStopTyping() {
	c.timers.Clear(keySenderDebounce)

	ev := protocol.StopTypingEvent{UserID: c.self.UserID}
	if err := c.bc.Broadcast(protocol.EventStopTyping, ev); err != nil {
		log.Printf("[typing] broadcast stop_typing failed: %v", err)
	}
	metrics.BroadcastsTotal.WithLabelValues(protocol.EventStopTyping, "out").Inc()
}

// ---------------------------------------------------------------------------
// Receiver side
// ---------------------------------------------------------------------------

// HandleTyping upserts the sender of a typing broadcast into the typing map
// and re-arms its expiry timer. Signals from self or without a user id are
// dropped.
func (c *Coordinator) HandleTyping(ev protocol.TypingEvent) {
	if ev.UserID == "" || ev.UserID == c.self.UserID {
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(protocol.EventTyping, "in").Inc()

	c.mu.Lock()
	c.entries[ev.UserID] = Entry{
		UserID:      ev.UserID,
		DisplayName: ev.DisplayName,
		AvatarURL:   ev.AvatarURL,
		LastSeenAt:  time.Now(),
	}
	n := len(c.entries)
	c.mu.Unlock()

	metrics.TypingUsers.Set(float64(n))

	userID := ev.UserID
	c.timers.Set(keyReceiverExpiryPfx+userID, c.config.ReceiverExpiry, func() {
		c.remove(userID)
	})

	c.notify()
}

// HandleStopTyping removes the sender of a stop_typing broadcast
// immediately and cancels its expiry timer.
func (c *Coordinator) HandleStopTyping(ev protocol.StopTypingEvent) {
	if ev.UserID == "" || ev.UserID == c.self.UserID {
		return
	}
	metrics.BroadcastsTotal.WithLabelValues(protocol.EventStopTyping, "in").Inc()

	c.timers.Clear(keyReceiverExpiryPfx + ev.UserID)
	c.remove(ev.UserID)
}

// HandleMessageFrom removes a peer's typing entry when a confirmed message
// from that peer arrives: a sent message implies typing has stopped even if
// no stop signal made it through.
func (c *Coordinator) HandleMessageFrom(userID string) {
	if userID == "" || userID == c.self.UserID {
		return
	}
	c.timers.Clear(keyReceiverExpiryPfx + userID)
	c.remove(userID)
}

// remove drops a peer from the typing map and notifies on actual change.
func (c *Coordinator) remove(userID string) {
	c.mu.Lock()
	_, ok := c.entries[userID]
	if ok {
		delete(c.entries, userID)
	}
	n := len(c.entries)
	c.mu.Unlock()

	if ok {
		metrics.TypingUsers.Set(float64(n))
		c.notify()
	}
}

// Reset drops all receiver-side state. Timer cleanup is the caller's
// responsibility (the session manager clears the whole registry on
// teardown).
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
	metrics.TypingUsers.Set(0)
}

// Typing returns the current typing peers sorted by user ID.
func (c *Coordinator) Typing() []Entry {
	c.mu.Lock()
	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

func (c *Coordinator) notify() {
	if c.onChange != nil {
		c.onChange()
	}
}
