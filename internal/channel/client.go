package channel

import (
	"log"
	"sync"

	"github.com/roomline/chat-client/internal/auth"
	"github.com/roomline/chat-client/internal/transport"
)

// Client binds the channel lifecycle to the auth provider: a sign-in builds
// a manager for the new session, a sign-out or a switch to a different user
// tears the old one down first. At most one manager is live at a time.
type Client struct {
	config    Config
	provider  auth.Provider
	transport transport.Transport
	store     Store
	hooks     Hooks

	mu      sync.Mutex
	manager *Manager
	stop    func()
	closed  bool
}

// NewClient creates a client. Call Start to begin following the provider.
func NewClient(config Config, provider auth.Provider, tr transport.Transport, store Store, hooks Hooks) *Client {
	return &Client{
		config:    config,
		provider:  provider,
		transport: tr,
		store:     store,
		hooks:     hooks,
	}
}

// Start subscribes to session changes and connects immediately if a session
// is already present.
func (c *Client) Start() {
	c.mu.Lock()
	if c.closed || c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.stop = c.provider.OnSessionChange(c.apply)
	c.mu.Unlock()

	c.apply(c.provider.Current())
}

// apply reconciles the live manager with the current session. Old session
// state is fully torn down before the new session connects; a session
// refresh for the same user keeps the existing manager.
func (c *Client) apply(session *auth.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.manager != nil {
		if session != nil && c.manager.Session().UserID == session.UserID {
			return
		}
		c.manager.Close()
		c.manager = nil
	}

	if session == nil {
		return
	}

	log.Printf("channel: session for user=%s, starting manager", session.UserID)
	c.manager = NewManager(c.config, *session, c.transport, c.store, c.hooks)
	c.manager.Start()
}

// Manager returns the live manager, or nil when signed out.
func (c *Client) Manager() *Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manager
}

// Close detaches from the provider and tears down any live manager.
// Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	stop := c.stop
	m := c.manager
	c.manager = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if m != nil {
		m.Close()
	}
}
