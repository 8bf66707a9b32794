package pool

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

// Subscription represents an active subscription on a relay connection
type Subscription struct {
	ID     string
	Relay  string
	Events chan types.Event
	EOSE   chan struct{}
	Done   chan struct{}

	conn      *Conn
	closeOnce sync.Once
}

// Close safely closes the Done channel exactly once
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
	})
}

// Conn manages a single websocket connection with multiple subscriptions
type Conn struct {
	url          string
	ws           *websocket.Conn
	clock        clock.Clock
	log          *slog.Logger
	writeTimeout time.Duration
	bufferSize   int

	writeMu sync.Mutex

	mu            sync.Mutex
	subscriptions map[string]*Subscription
	closed        bool
	lastActivity  time.Time
}

func newConn(url string, ws *websocket.Conn, cfg Config, clk clock.Clock, log *slog.Logger) *Conn {
	return &Conn{
		url:           url,
		ws:            ws,
		clock:         clk,
		log:           log.With("relay", url),
		writeTimeout:  cfg.WriteTimeout,
		bufferSize:    cfg.SubscriptionBuffer,
		subscriptions: make(map[string]*Subscription),
		lastActivity:  clk.Now(),
	}
}

// URL returns the normalized relay URL
func (c *Conn) URL() string { return c.url }

// Alive reports whether the connection is still usable
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Subscriptions returns the number of open subscriptions
func (c *Conn) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// LastActivity returns when the connection was last used
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = c.clock.Now()
	c.mu.Unlock()
}

// evictable reports whether the sweep may close this connection
func (c *Conn) evictable(now time.Time, idleTimeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	return len(c.subscriptions) == 0 && now.Sub(c.lastActivity) > idleTimeout
}

// addSubscription registers a new subscription; nil if the connection is closed
func (c *Conn) addSubscription(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	sub := &Subscription{
		ID:     id,
		Relay:  c.url,
		Events: make(chan types.Event, c.bufferSize),
		EOSE:   make(chan struct{}, 1),
		Done:   make(chan struct{}),
		conn:   c,
	}
	c.subscriptions[id] = sub
	c.lastActivity = c.clock.Now()
	return sub
}

// removeSubscription unregisters id and reports whether a CLOSE should be sent
func (c *Conn) removeSubscription(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.subscriptions[id]
	delete(c.subscriptions, id)
	c.lastActivity = c.clock.Now()
	return exists && !c.closed
}

func (c *Conn) subscription(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[id]
}

// WriteJSON sends a message on the connection with a write deadline
func (c *Conn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteJSON(v)
}

// readLoop continuously reads from the connection and routes messages
func (c *Conn) readLoop() {
	defer c.markClosed()

	for {
		var msg []interface{}
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Debug("pool: read error", "error", err)
			}
			return
		}
		c.touch()

		if len(msg) < 2 {
			continue
		}
		msgType, ok := msg[0].(string)
		if !ok {
			continue
		}
		subID, _ := msg[1].(string)

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			evt, ok := nostr.ParseEventFromInterface(msg[2])
			if !ok {
				continue
			}
			evt.RelaysSeen = []string{c.url}

			if sub := c.subscription(subID); sub != nil {
				select {
				case sub.Events <- evt:
				case <-sub.Done:
				default:
					c.log.Debug("pool: subscription buffer full, dropping event", "sub", subID)
				}
			}

		case "EOSE":
			if sub := c.subscription(subID); sub != nil {
				select {
				case sub.EOSE <- struct{}{}:
				default:
				}
			}

		case "CLOSED":
			c.mu.Lock()
			sub := c.subscriptions[subID]
			delete(c.subscriptions, subID)
			c.mu.Unlock()
			if sub != nil {
				var reason string
				if len(msg) >= 3 {
					reason, _ = msg[2].(string)
				}
				c.log.Debug("pool: subscription closed by relay", "sub", subID, "reason", reason)
				sub.Close()
			}

		case "NOTICE":
			c.log.Info("pool: NOTICE", "notice", subID)
		}
	}
}

// markClosed marks the connection as closed and closes every subscription
func (c *Conn) markClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	err := c.ws.Close()

	for _, sub := range c.subscriptions {
		sub.Close()
	}
	c.subscriptions = make(map[string]*Subscription)
	return err
}
