package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/roomline/chat-client/internal/protocol"
)

// RelayConfig holds websocket relay connection settings.
type RelayConfig struct {
	URL              string        // ws://relay:9000/realtime
	DialTimeout      time.Duration // timeout for the websocket dial
	SubscribeTimeout time.Duration // max wait for the subscribed frame
}

// DefaultRelayConfig returns sensible defaults. URL must be set by the
// caller.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		DialTimeout:      5 * time.Second,
		SubscribeTimeout: 10 * time.Second,
	}
}

// RelayTransport implements Transport over a websocket relay server that
// speaks the protocol.Frame envelope: the relay owns presence bookkeeping
// and pushes wholesale presence_state frames, and echoes broadcast frames
// to every room subscriber.
type RelayTransport struct {
	config RelayConfig
}

// NewRelayTransport creates a transport for the given relay.
func NewRelayTransport(config RelayConfig) *RelayTransport {
	return &RelayTransport{config: config}
}

// Open creates a channel for the given room. The websocket is dialed
// lazily on Subscribe.
func (t *RelayTransport) Open(room string, presenceKey string) Channel {
	return &relayChannel{
		config:      t.config,
		room:        room,
		presenceKey: presenceKey,
		handlers:    make(map[string]func(json.RawMessage)),
		done:        make(chan struct{}),
	}
}

// relayChannel is one room subscription over its own websocket connection.
type relayChannel struct {
	config      RelayConfig
	room        string
	presenceKey string

	mu         sync.Mutex
	handlers   map[string]func(json.RawMessage)
	presenceFn func(map[string]protocol.PresenceMeta)
	statusFn   func(Status)
	conn       net.Conn
	writeMu    sync.Mutex
	subscribed bool
	closed     bool

	done chan struct{}
}

func (c *relayChannel) OnPresenceSync(fn func(map[string]protocol.PresenceMeta)) {
	c.mu.Lock()
	c.presenceFn = fn
	c.mu.Unlock()
}

func (c *relayChannel) OnBroadcast(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = fn
	c.mu.Unlock()
}

// Subscribe dials the relay, sends the subscribe frame, and starts the read
// loop. The outcome (subscribed, error, or timeout waiting for the relay's
// confirmation) is reported to fn.
func (c *relayChannel) Subscribe(fn func(Status)) {
	c.mu.Lock()
	c.statusFn = fn
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
	defer cancel()

	conn, _, _, err := ws.Dial(ctx, c.config.URL)
	if err != nil {
		log.Printf("[relay] dial %s failed: %v", c.config.URL, err)
		c.report(StatusError)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.write(protocol.Frame{
		Kind:        protocol.FrameSubscribe,
		Room:        c.room,
		PresenceKey: c.presenceKey,
	}); err != nil {
		log.Printf("[relay] subscribe frame failed: %v", err)
		conn.Close()
		c.report(StatusError)
		return
	}

	// The relay must confirm within the subscribe window.
	confirm := time.AfterFunc(c.config.SubscribeTimeout, func() {
		c.mu.Lock()
		ok := c.subscribed || c.closed
		c.mu.Unlock()
		if !ok {
			log.Printf("[relay] subscribe timed out after %s", c.config.SubscribeTimeout)
			c.report(StatusTimedOut)
		}
	})

	go c.readLoop(confirm)
}

// Send broadcasts a named event through the relay.
func (c *relayChannel) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s payload: %w", event, err)
	}
	return c.write(protocol.Frame{
		Kind:    protocol.FrameBroadcast,
		Event:   event,
		Payload: data,
	})
}

// Track announces presence metadata to the relay.
func (c *relayChannel) Track(meta protocol.PresenceMeta) error {
	m := meta
	return c.write(protocol.Frame{
		Kind: protocol.FrameTrack,
		Meta: &m,
	})
}

// Close sends a best-effort leave frame and tears the connection down.
// Idempotent.
func (c *relayChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		_ = c.write(protocol.Frame{Kind: protocol.FrameLeave})
		conn.Close()
	}
}

// readLoop dispatches relay frames until the connection drops or the
// channel closes.
func (c *relayChannel) readLoop(confirm *time.Timer) {
	defer confirm.Stop()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			log.Printf("[relay] read failed: %v", err)
			c.report(StatusError)
			return
		}

		frame, err := protocol.ParseFrame(data)
		if err != nil {
			log.Printf("[relay] dropped frame: %v", err)
			continue
		}
		c.handleFrame(frame, confirm)
	}
}

func (c *relayChannel) handleFrame(frame protocol.Frame, confirm *time.Timer) {
	switch frame.Kind {
	case protocol.FrameSubscribed:
		confirm.Stop()
		c.mu.Lock()
		c.subscribed = true
		c.mu.Unlock()
		c.report(StatusSubscribed)

	case protocol.FramePresenceState:
		c.mu.Lock()
		fn := c.presenceFn
		c.mu.Unlock()
		if fn != nil {
			snapshot := frame.Presence
			if snapshot == nil {
				snapshot = map[string]protocol.PresenceMeta{}
			}
			fn(snapshot)
		}

	case protocol.FrameBroadcast:
		c.mu.Lock()
		fn := c.handlers[frame.Event]
		c.mu.Unlock()
		if fn != nil {
			fn(frame.Payload)
		}

	case protocol.FrameError:
		log.Printf("[relay] relay error code=%s message=%q", frame.Code, frame.Message)

	default:
		log.Printf("[relay] dropped unknown frame kind %q", frame.Kind)
	}
}

func (c *relayChannel) report(status Status) {
	c.mu.Lock()
	fn := c.statusFn
	closed := c.closed
	c.mu.Unlock()
	if fn != nil && !closed {
		fn(status)
	}
}

// write serializes a frame and sends it as one websocket text message. The
// write mutex keeps concurrent frames from interleaving.
func (c *relayChannel) write(frame protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: relay channel not connected")
	}

	data, err := protocol.EncodeFrame(frame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		return fmt.Errorf("transport: relay write %s: %w", frame.Kind, err)
	}
	return nil
}
