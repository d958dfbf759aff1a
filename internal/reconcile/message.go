// Package reconcile maintains the chronologically ordered, de-duplicated
// message view: optimistic local inserts with confirm/rollback against the
// durable store, and merge of peer-originated inserts delivered over the
// realtime channel.
package reconcile

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Status is a message's position in the optimistic-send lifecycle.
type Status string

const (
	// StatusPending marks a locally authored message whose store write has
	// not resolved yet.
	StatusPending Status = "pending"

	// StatusConfirmed marks a message the store has durably accepted.
	// Peer-originated messages arrive already confirmed.
	StatusConfirmed Status = "confirmed"
)

// Message is one chat message as held in the local view. ID is generated by
// the authoring client and is the sole de-duplication key.
type Message struct {
	ID          uuid.UUID
	UserID      string
	DisplayName string
	AvatarURL   string
	Body        string
	SentAt      time.Time
	Status      Status
}

// PendingSend carries the rollback context for one optimistic send through
// the asynchronous store write. OriginalBody is the exact input text to
// restore if the write fails.
type PendingSend struct {
	ID           uuid.UUID
	OriginalBody string
}

// Message body limits.
const (
	MaxBodyBytes = 4096
	MaxBodyChars = 2000
)

// ValidateBody checks that a message body meets content requirements.
func ValidateBody(body string) error {
	if len(body) == 0 {
		return fmt.Errorf("message body is empty")
	}
	if len(body) > MaxBodyBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxBodyBytes)
	}
	if utf8.RuneCountInString(body) > MaxBodyChars {
		return fmt.Errorf("message exceeds %d character limit", MaxBodyChars)
	}
	if !utf8.ValidString(body) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}
