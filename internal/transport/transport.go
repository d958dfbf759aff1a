// Package transport provides the realtime channel abstraction the engine
// coordinates over: presence bookkeeping keyed by user id, named broadcast
// events, and a subscription lifecycle. Two implementations are included, a
// NATS+Redis channel and a websocket relay channel.
package transport

import (
	"encoding/json"

	"github.com/roomline/chat-client/internal/protocol"
)

// Status is reported to the Subscribe callback as the channel's
// subscription lifecycle progresses.
type Status string

const (
	StatusSubscribed Status = "subscribed"
	StatusError      Status = "error"
	StatusTimedOut   Status = "timed_out"
	StatusClosed     Status = "closed"
)

// Channel is one named pub/sub channel bound to a room. Handlers must be
// registered before Subscribe; the channel invokes them from its own
// goroutines, so consumers are expected to re-serialize.
type Channel interface {
	// OnPresenceSync registers the callback for wholesale presence
	// snapshots, keyed by user id.
	OnPresenceSync(fn func(map[string]protocol.PresenceMeta))

	// OnBroadcast registers the callback for a named broadcast event.
	OnBroadcast(event string, fn func(payload json.RawMessage))

	// Send broadcasts a named event with a JSON-serializable payload to all
	// subscribers of the room, the sender included.
	Send(event string, payload interface{}) error

	// Track announces this client's presence under the channel's presence
	// key with the given metadata.
	Track(meta protocol.PresenceMeta) error

	// Subscribe activates the channel and reports lifecycle status to fn.
	Subscribe(fn func(Status))

	// Close releases the channel: untracks presence, detaches handlers,
	// and frees transport resources. Idempotent.
	Close()
}

// Transport opens channels. Room names are fixed constants in this engine
// (one global room), but the transport itself is room-agnostic.
type Transport interface {
	Open(room string, presenceKey string) Channel
}
