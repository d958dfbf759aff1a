// Package presence maintains the set of online users from channel presence
// snapshots. The transport, not the client, is authoritative for membership:
// every snapshot replaces the set wholesale, with no merging.
package presence

import (
	"sort"
	"sync"

	"github.com/roomline/chat-client/internal/metrics"
	"github.com/roomline/chat-client/internal/protocol"
)

// Tracker holds the current online-user set.
type Tracker struct {
	mu     sync.Mutex
	online map[string]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// Apply replaces the online set with the key set of the snapshot. A nil or
// empty snapshot degrades to an empty set; last snapshot wins.
func (t *Tracker) Apply(snapshot map[string]protocol.PresenceMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]struct{}, len(snapshot))
	for userID := range snapshot {
		if userID == "" {
			continue
		}
		t.online[userID] = struct{}{}
	}
	metrics.OnlineUsers.Set(float64(len(t.online)))
}

// Clear empties the online set. Called on channel teardown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]struct{})
	metrics.OnlineUsers.Set(0)
}

// Online returns a sorted copy of the online user IDs.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Contains reports whether userID is in the current snapshot.
func (t *Tracker) Contains(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.online[userID]
	return ok
}

// Count returns the size of the online set.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.online)
}
