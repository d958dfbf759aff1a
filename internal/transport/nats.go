package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/roomline/chat-client/internal/protocol"
)

// NATS subject patterns. Broadcast events fan out per event name; the
// presence subject carries change pings that trigger a snapshot rebuild.
const (
	subjectRoomPrefix = "room."
)

// Presence bookkeeping parameters. The heartbeat refreshes this client's
// presence key well inside the TTL, so a crashed client disappears within
// presenceTTL without any explicit leave.
const (
	presenceTTL       = 45 * time.Second
	heartbeatInterval = 15 * time.Second
	sweepInterval     = 10 * time.Second
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-client",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSTransport implements Transport over a NATS connection for broadcasts
// and a Redis client for presence bookkeeping. Presence snapshots are
// derived from shared Redis state, so every emitted snapshot is wholesale
// and authoritative regardless of which client triggered it.
type NATSTransport struct {
	conn *nats.Conn
	rdb  *redis.Client
}

// NewNATSTransport connects to NATS with the given config and returns a
// ready transport. The Redis client is assumed already connected.
func NewNATSTransport(config NATSConfig, rdb *redis.Client) (*NATSTransport, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())
	return &NATSTransport{conn: nc, rdb: rdb}, nil
}

// Open creates a channel for the given room, tracking presence under
// presenceKey.
func (t *NATSTransport) Open(room string, presenceKey string) Channel {
	return &natsChannel{
		transport:   t,
		room:        room,
		presenceKey: presenceKey,
		handlers:    make(map[string]func(json.RawMessage)),
		done:        make(chan struct{}),
	}
}

// Close drains the NATS connection. Open channels should be closed first.
func (t *NATSTransport) Close() {
	if err := t.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
}

func subjectEvent(room, event string) string {
	return subjectRoomPrefix + room + ".event." + event
}

func subjectPresence(room string) string {
	return subjectRoomPrefix + room + ".presence"
}

func presenceKeyPrefix(room string) string {
	return "presence:" + room + ":"
}

// natsChannel is one room-bound channel over the shared NATS/Redis
// transport.
type natsChannel struct {
	transport   *NATSTransport
	room        string
	presenceKey string

	mu         sync.Mutex
	handlers   map[string]func(json.RawMessage)
	presenceFn func(map[string]protocol.PresenceMeta)
	statusFn   func(Status)
	subs       []*nats.Subscription
	tracked    bool
	closed     bool

	done chan struct{}
}

func (c *natsChannel) OnPresenceSync(fn func(map[string]protocol.PresenceMeta)) {
	c.mu.Lock()
	c.presenceFn = fn
	c.mu.Unlock()
}

func (c *natsChannel) OnBroadcast(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = fn
	c.mu.Unlock()
}

// Subscribe wires NATS subscriptions for every registered broadcast handler
// plus the presence subject, starts the presence sweep, and reports the
// outcome to fn.
func (c *natsChannel) Subscribe(fn func(Status)) {
	c.mu.Lock()
	c.statusFn = fn
	events := make([]string, 0, len(c.handlers))
	for event := range c.handlers {
		events = append(events, event)
	}
	c.mu.Unlock()

	for _, event := range events {
		event := event
		sub, err := c.transport.conn.Subscribe(subjectEvent(c.room, event), func(msg *nats.Msg) {
			c.dispatch(event, msg.Data)
		})
		if err != nil {
			log.Printf("[nats] subscribe %s failed: %v", subjectEvent(c.room, event), err)
			c.report(StatusError)
			return
		}
		c.addSub(sub)
	}

	// Presence pings announce joins/leaves; each triggers a snapshot
	// rebuild from Redis.
	sub, err := c.transport.conn.Subscribe(subjectPresence(c.room), func(_ *nats.Msg) {
		c.emitPresence()
	})
	if err != nil {
		log.Printf("[nats] subscribe %s failed: %v", subjectPresence(c.room), err)
		c.report(StatusError)
		return
	}
	c.addSub(sub)

	go c.sweepLoop()

	c.report(StatusSubscribed)
	c.emitPresence()
}

// Send broadcasts a named event to the room.
func (c *natsChannel) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s payload: %w", event, err)
	}
	if err := c.transport.conn.Publish(subjectEvent(c.room, event), data); err != nil {
		return fmt.Errorf("transport: publish %s: %w", event, err)
	}
	return nil
}

// Track writes this client's presence record to Redis with a TTL, starts
// the heartbeat that keeps it alive, and pings the room.
func (c *natsChannel) Track(meta protocol.PresenceMeta) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := presenceKeyPrefix(c.room) + c.presenceKey
	pipe := c.transport.rdb.Pipeline()
	pipe.HSet(ctx, key, "display_name", meta.DisplayName, "avatar_url", meta.AvatarURL)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("transport: track presence: %w", err)
	}

	c.mu.Lock()
	alreadyTracked := c.tracked
	c.tracked = true
	c.mu.Unlock()
	if !alreadyTracked {
		go c.heartbeatLoop(key)
	}

	c.pingPresence()
	return nil
}

// Close untracks presence, detaches all subscriptions, and stops background
// loops. Idempotent.
func (c *natsChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	tracked := c.tracked
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	close(c.done)

	if tracked {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := c.transport.rdb.Del(ctx, presenceKeyPrefix(c.room)+c.presenceKey).Err(); err != nil {
			log.Printf("[nats] presence untrack failed: %v", err)
		}
		cancel()
		c.pingPresence()
	}

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[nats] unsubscribe: %v", err)
		}
	}
}

func (c *natsChannel) addSub(sub *nats.Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

func (c *natsChannel) dispatch(event string, data []byte) {
	c.mu.Lock()
	fn := c.handlers[event]
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}
	fn(json.RawMessage(data))
}

func (c *natsChannel) report(status Status) {
	c.mu.Lock()
	fn := c.statusFn
	c.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}

// pingPresence nudges every subscriber (self included) to rebuild the
// presence snapshot. Best effort.
func (c *natsChannel) pingPresence() {
	if err := c.transport.conn.Publish(subjectPresence(c.room), []byte(c.presenceKey)); err != nil {
		log.Printf("[nats] presence ping failed: %v", err)
	}
}

// heartbeatLoop refreshes the presence TTL until the channel closes.
func (c *natsChannel) heartbeatLoop(key string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := c.transport.rdb.Expire(ctx, key, presenceTTL).Err(); err != nil {
				log.Printf("[nats] presence heartbeat failed: %v", err)
			}
			cancel()
		}
	}
}

// sweepLoop periodically rebuilds the presence snapshot so TTL-expired
// peers disappear even when no ping arrives.
func (c *natsChannel) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.emitPresence()
		}
	}
}

// emitPresence scans the room's presence keys in Redis and delivers a
// wholesale snapshot to the registered callback. Scan or read errors
// degrade to skipping the emission, never to a partial merge.
func (c *natsChannel) emitPresence() {
	c.mu.Lock()
	fn := c.presenceFn
	closed := c.closed
	c.mu.Unlock()
	if closed || fn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	prefix := presenceKeyPrefix(c.room)
	snapshot := make(map[string]protocol.PresenceMeta)

	iter := c.transport.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := c.transport.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue // expired between scan and read
		}
		userID := strings.TrimPrefix(key, prefix)
		if userID == "" {
			continue
		}
		snapshot[userID] = protocol.PresenceMeta{
			DisplayName: fields["display_name"],
			AvatarURL:   fields["avatar_url"],
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("[nats] presence scan failed: %v", err)
		return
	}

	fn(snapshot)
}
