package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/roomline/chat-client/internal/auth"
	"github.com/roomline/chat-client/internal/protocol"
	"github.com/roomline/chat-client/internal/timeout"
)

// recordingBroadcaster captures broadcast events for assertions.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBroadcaster) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	copy(out, b.events)
	return out
}

var self = auth.Session{UserID: "self", DisplayName: "Self", AvatarURL: "http://a/self.png"}

// fastConfig shrinks the production 1s/3s windows so tests run quickly while
// preserving the debounce < expiry asymmetry.
func fastConfig() Config {
	return Config{
		SenderDebounce: 30 * time.Millisecond,
		ReceiverExpiry: 90 * time.Millisecond,
	}
}

func newTestCoordinator(t *testing.T, bc Broadcaster) (*Coordinator, *timeout.Registry) {
	t.Helper()
	timers := timeout.NewRegistry()
	t.Cleanup(timers.ClearAll)
	return NewCoordinator(fastConfig(), self, bc, timers, nil), timers
}

func TestNotifyTypingBroadcastsEveryCall(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.NotifyTyping()
	c.NotifyTyping()
	c.NotifyTyping()

	events := bc.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 broadcasts, got %d: %v", len(events), events)
	}
	for _, ev := range events {
		if ev != protocol.EventTyping {
			t.Errorf("expected only typing events, got %v", events)
		}
	}
}

func TestDebounceEmitsSingleStopAfterQuiet(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	// Type once, then pause past the debounce window (the 1.2s-pause
	// scenario scaled down).
	c.NotifyTyping()
	time.Sleep(60 * time.Millisecond)

	events := bc.Events()
	stops := 0
	for _, ev := range events {
		if ev == protocol.EventStopTyping {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("expected exactly one stop_typing after pause, got %d (%v)", stops, events)
	}
}

func TestRapidRetypeNeverEmitsInterveningStop(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	// Re-fire well within the debounce window several times.
	for i := 0; i < 4; i++ {
		c.NotifyTyping()
		time.Sleep(10 * time.Millisecond)
	}

	for _, ev := range bc.Events() {
		if ev == protocol.EventStopTyping {
			t.Fatalf("stop_typing emitted while still typing: %v", bc.Events())
		}
	}
}

func TestNotifyStopTypingCancelsDebounce(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.NotifyTyping()
	c.NotifyStopTyping()
	time.Sleep(60 * time.Millisecond)

	stops := 0
	for _, ev := range bc.Events() {
		if ev == protocol.EventStopTyping {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("expected exactly one stop_typing (explicit), got %d", stops)
	}
}

func TestHandleTypingUpsertsPeer(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "peer", DisplayName: "Peer", IsTyping: true})

	entries := c.Typing()
	if len(entries) != 1 || entries[0].UserID != "peer" {
		t.Fatalf("expected [peer], got %+v", entries)
	}
	if entries[0].DisplayName != "Peer" {
		t.Errorf("expected display name to be stored, got %q", entries[0].DisplayName)
	}
}

func TestHandleTypingExcludesSelf(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: self.UserID, IsTyping: true})

	if len(c.Typing()) != 0 {
		t.Fatalf("self must never appear in typing state, got %+v", c.Typing())
	}
}

func TestHandleTypingDropsMissingUserID(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "", IsTyping: true})

	if len(c.Typing()) != 0 {
		t.Fatalf("malformed payload must be dropped, got %+v", c.Typing())
	}
}

func TestReceiverExpiryRemovesPeer(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "peer", IsTyping: true})
	if len(c.Typing()) != 1 {
		t.Fatal("peer not registered")
	}

	// Still present just before the expiry window.
	time.Sleep(50 * time.Millisecond)
	if len(c.Typing()) != 1 {
		t.Fatal("peer expired before the inactivity window elapsed")
	}

	// Gone shortly after.
	time.Sleep(80 * time.Millisecond)
	if len(c.Typing()) != 0 {
		t.Fatalf("peer not expired after inactivity window, got %+v", c.Typing())
	}
}

func TestRepeatTypingRefreshesExpiry(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "peer", IsTyping: true})
	time.Sleep(60 * time.Millisecond)
	c.HandleTyping(protocol.TypingEvent{UserID: "peer", IsTyping: true})
	time.Sleep(60 * time.Millisecond)

	// Total elapsed exceeds one expiry window, but the refresh reset it.
	if len(c.Typing()) != 1 {
		t.Fatalf("refresh did not extend the expiry window, got %+v", c.Typing())
	}
}

func TestHandleStopTypingRemovesImmediately(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, timers := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "peer", IsTyping: true})
	c.HandleStopTyping(protocol.StopTypingEvent{UserID: "peer"})

	if len(c.Typing()) != 0 {
		t.Fatalf("expected peer removed on stop signal, got %+v", c.Typing())
	}
	if timers.Len() != 0 {
		t.Errorf("expected expiry timer cleared, %d timers pending", timers.Len())
	}
}

func TestHandleMessageFromRemovesPeer(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "peer", IsTyping: true})
	c.HandleMessageFrom("peer")

	if len(c.Typing()) != 0 {
		t.Fatalf("expected peer removed after message receipt, got %+v", c.Typing())
	}
}

func TestResetClearsAllEntries(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "p1", IsTyping: true})
	c.HandleTyping(protocol.TypingEvent{UserID: "p2", IsTyping: true})
	c.Reset()

	if len(c.Typing()) != 0 {
		t.Fatalf("expected empty state after Reset, got %+v", c.Typing())
	}
}

func TestTypingReturnsSortedEntries(t *testing.T) {
	bc := &recordingBroadcaster{}
	c, _ := newTestCoordinator(t, bc)

	c.HandleTyping(protocol.TypingEvent{UserID: "zed", IsTyping: true})
	c.HandleTyping(protocol.TypingEvent{UserID: "amy", IsTyping: true})

	entries := c.Typing()
	if len(entries) != 2 || entries[0].UserID != "amy" || entries[1].UserID != "zed" {
		t.Fatalf("expected entries sorted by user id, got %+v", entries)
	}
}

func TestOnChangeFiresOnReceiverMutations(t *testing.T) {
	bc := &recordingBroadcaster{}
	timers := timeout.NewRegistry()
	t.Cleanup(timers.ClearAll)

	var mu sync.Mutex
	changes := 0
	c := NewCoordinator(fastConfig(), self, bc, timers, func() {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	c.HandleTyping(protocol.TypingEvent{UserID: "peer", IsTyping: true})
	c.HandleStopTyping(protocol.StopTypingEvent{UserID: "peer"})
	// Removing an absent peer must not notify.
	c.HandleStopTyping(protocol.StopTypingEvent{UserID: "peer"})

	mu.Lock()
	defer mu.Unlock()
	if changes != 2 {
		t.Fatalf("expected 2 change notifications, got %d", changes)
	}
}
