package reconcile

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// View is the ordered message list shown to the UI. It enforces the two
// view invariants: no two entries share an ID, and entries are always
// sorted ascending by SentAt (re-sorted on every insert, so arrival order
// never determines display order).
type View struct {
	mu       sync.Mutex
	messages []Message
	index    map[uuid.UUID]int // ID -> position in messages
}

// NewView creates an empty View.
func NewView() *View {
	return &View{index: make(map[uuid.UUID]int)}
}

// Insert adds a message if its ID is not already present and re-sorts.
// Returns false for duplicates.
func (v *View) Insert(msg Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.index[msg.ID]; ok {
		return false
	}
	v.messages = append(v.messages, msg)
	v.resort()
	return true
}

// Confirm marks the message with the given ID as confirmed. Returns false
// if the ID is absent (already rolled back or never inserted).
func (v *View) Confirm(id uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.index[id]
	if !ok {
		return false
	}
	v.messages[pos].Status = StatusConfirmed
	return true
}

// Remove deletes the message with the given ID. Returns false if absent.
func (v *View) Remove(id uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos, ok := v.index[id]
	if !ok {
		return false
	}
	v.messages = append(v.messages[:pos], v.messages[pos+1:]...)
	delete(v.index, id)
	v.resort()
	return true
}

// Replace swaps the entire view for the given messages, dropping duplicate
// IDs (first occurrence wins) and re-sorting. Used only for the initial
// load from the store.
func (v *View) Replace(msgs []Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.messages = v.messages[:0]
	v.index = make(map[uuid.UUID]int, len(msgs))
	for _, m := range msgs {
		if _, ok := v.index[m.ID]; ok {
			continue
		}
		v.index[m.ID] = len(v.messages) // placeholder, fixed by resort
		v.messages = append(v.messages, m)
	}
	v.resort()
}

// Contains reports whether a message with the given ID is in the view.
func (v *View) Contains(id uuid.UUID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.index[id]
	return ok
}

// Messages returns a copy of the ordered view.
func (v *View) Messages() []Message {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Len returns the number of messages in the view.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.messages)
}

// resort restores SentAt ordering and rebuilds the ID index. Stable so that
// equal timestamps keep their insertion order. Caller must hold v.mu.
func (v *View) resort() {
	sort.SliceStable(v.messages, func(i, j int) bool {
		return v.messages[i].SentAt.Before(v.messages[j].SentAt)
	})
	for pos, m := range v.messages {
		v.index[m.ID] = pos
	}
}
