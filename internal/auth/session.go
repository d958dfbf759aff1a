// Package auth defines the session identity consumed by the coordination
// engine. The engine never performs authentication itself; it only needs the
// current identity and a change-notification stream from whatever auth
// system the host application uses.
package auth

import "sync"

// Session is an immutable snapshot of the authenticated identity. A nil
// *Session means signed out.
type Session struct {
	UserID      string
	DisplayName string
	Email       string
	AvatarURL   string
}

// Provider exposes the current session and a subscription for session
// changes. Implementations must invoke change callbacks with the full new
// session (or nil on sign-out), never with partial updates.
type Provider interface {
	// Current returns the active session, or nil if signed out.
	Current() *Session

	// OnSessionChange registers a callback invoked on every session change.
	// The returned function unsubscribes the callback.
	OnSessionChange(fn func(*Session)) func()
}

// StaticProvider is an in-process Provider driven by explicit SignIn and
// SignOut calls. It is used by the terminal client and by tests.
type StaticProvider struct {
	mu        sync.Mutex
	session   *Session
	listeners map[int]func(*Session)
	nextID    int
}

// NewStaticProvider creates a signed-out StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{listeners: make(map[int]func(*Session))}
}

// Current returns the active session, or nil if signed out.
func (p *StaticProvider) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	return &s
}

// SignIn replaces the current session and notifies all listeners.
func (p *StaticProvider) SignIn(s Session) {
	p.mu.Lock()
	p.session = &s
	fns := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(&s)
	}
}

// SignOut clears the current session and notifies all listeners with nil.
func (p *StaticProvider) SignOut() {
	p.mu.Lock()
	p.session = nil
	fns := p.snapshotListeners()
	p.mu.Unlock()

	for _, fn := range fns {
		fn(nil)
	}
}

// OnSessionChange registers a callback for session changes and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (p *StaticProvider) OnSessionChange(fn func(*Session)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// snapshotListeners copies the listener set so callbacks run without holding
// the provider lock. Caller must hold p.mu.
func (p *StaticProvider) snapshotListeners() []func(*Session) {
	fns := make([]func(*Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	return fns
}
