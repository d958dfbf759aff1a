// Package timeout provides per-key debounce/expiry timer bookkeeping. At
// most one timer is live per key at any instant: arming a key cancels and
// replaces whatever was armed before, and a superseded timer's callback is
// guaranteed never to fire.
package timeout

import (
	"sync"
	"time"
)

// Registry tracks one pending timer per string key.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
}

type entry struct {
	timer *time.Timer
	seq   uint64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Set arms a timer for key, cancelling any timer previously armed under the
// same key. The callback fires at most once, after delay, unless the key is
// re-armed or cleared first.
func (r *Registry) Set(key string, delay time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.timer.Stop()
	}

	r.seq++
	seq := r.seq
	timer := time.AfterFunc(delay, func() {
		r.fire(key, seq, fn)
	})
	r.entries[key] = &entry{timer: timer, seq: seq}
}

// fire runs when a timer elapses. The sequence check rejects callbacks from
// timers that were superseded or cleared after time.AfterFunc already
// committed to running them.
func (r *Registry) fire(key string, seq uint64, fn func()) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.seq != seq {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	r.mu.Unlock()

	fn()
}

// Clear cancels the timer for key. Clearing an unknown key is a no-op.
func (r *Registry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		e.timer.Stop()
		delete(r.entries, key)
	}
}

// ClearAll cancels every pending timer.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, key)
	}
}

// Len returns the number of pending timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
