// Package protocol defines the broadcast event names and payload structures
// exchanged over the realtime channel, plus the JSON frame envelope spoken by
// the websocket relay transport. All payloads are serialized as JSON; the
// engine only specifies shapes, never on-wire framing (that is the
// transport's concern).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Broadcast event names.
const (
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// TypingEvent is broadcast by a sender on every keystroke while composing.
type TypingEvent struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsTyping    bool   `json:"is_typing"`
}

// StopTypingEvent is broadcast when the sender stops composing (input
// cleared, focus lost, message sent, or debounce elapsed).
type StopTypingEvent struct {
	UserID string `json:"user_id"`
}

// PresenceMeta is the per-user metadata tracked alongside channel presence.
type PresenceMeta struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// ParseTypingEvent decodes a typing broadcast payload. Payloads without a
// user_id are rejected so malformed broadcasts can be dropped defensively.
func ParseTypingEvent(data []byte) (TypingEvent, error) {
	var ev TypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return TypingEvent{}, fmt.Errorf("protocol: failed to decode typing payload: %w", err)
	}
	if ev.UserID == "" {
		return TypingEvent{}, fmt.Errorf("protocol: typing payload missing user_id")
	}
	return ev, nil
}

// ParseStopTypingEvent decodes a stop_typing broadcast payload, rejecting
// payloads without a user_id.
func ParseStopTypingEvent(data []byte) (StopTypingEvent, error) {
	var ev StopTypingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StopTypingEvent{}, fmt.Errorf("protocol: failed to decode stop_typing payload: %w", err)
	}
	if ev.UserID == "" {
		return StopTypingEvent{}, fmt.Errorf("protocol: stop_typing payload missing user_id")
	}
	return ev, nil
}
