package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Relay frame kinds
// ---------------------------------------------------------------------------

// Client -> relay frame kinds.
const (
	FrameSubscribe = "subscribe"
	FrameTrack     = "track"
	FrameBroadcast = "broadcast"
	FrameLeave     = "leave"
)

// Relay -> client frame kinds.
const (
	FrameSubscribed    = "subscribed"
	FramePresenceState = "presence_state"
	FrameError         = "error"
	// FrameBroadcast is used in both directions.
)

// Frame is the JSON envelope exchanged with the websocket relay. The Kind
// field discriminates; only the fields relevant to a kind are populated.
type Frame struct {
	Kind        string                  `json:"kind"`
	Room        string                  `json:"room,omitempty"`
	PresenceKey string                  `json:"presence_key,omitempty"`
	Event       string                  `json:"event,omitempty"`
	Payload     json.RawMessage         `json:"payload,omitempty"`
	Meta        *PresenceMeta           `json:"meta,omitempty"`
	Presence    map[string]PresenceMeta `json:"presence,omitempty"`
	Code        string                  `json:"code,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

// ParseFrame decodes a relay frame, rejecting frames without a kind.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("protocol: failed to decode frame: %w", err)
	}
	if f.Kind == "" {
		return Frame{}, fmt.Errorf("protocol: frame missing \"kind\" field")
	}
	return f, nil
}

// EncodeFrame serializes a relay frame to JSON bytes.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to encode %q frame: %w", f.Kind, err)
	}
	return data, nil
}
