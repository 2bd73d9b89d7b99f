// Package notifications bridges the internal event bus onto WebSocket
// clients: a client subscribes by topic name and receives every event
// published under that topic's canonical event type.
package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/streaming"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientCommand is what a connected client sends: subscribe or unsubscribe
// with a list of topic names.
type clientCommand struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// outboundEvent is the wire shape pushed to clients.
type outboundEvent struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Key       string      `json:"key,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[events.EventType]bool
	mu            sync.RWMutex
}

func (c *client) subscribed(eventType events.EventType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[eventType]
}

func (c *client) apply(cmd clientCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range cmd.Topics {
		eventType := streaming.EventTypeForTopic(topic)
		switch cmd.Action {
		case "subscribe":
			c.subscriptions[eventType] = true
		case "unsubscribe":
			delete(c.subscriptions, eventType)
		}
	}
}

// Hub fans bus events out to WebSocket subscribers.
type Hub struct {
	bus    *events.Bus
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub over the bus.
func NewHub(bus *events.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bus:     bus,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Start forwards every bus event to matching subscribers until the context
// is cancelled.
func (h *Hub) Start(ctx context.Context) {
	ch := h.bus.SubscribeAll()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				h.broadcast(event)
			}
		}
	}()
}

func (h *Hub) broadcast(event *events.Event) {
	frame, err := json.Marshal(outboundEvent{
		Type:      string(event.Type),
		Topic:     event.Topic,
		Key:       event.Key,
		Payload:   event.Payload,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Warn("Dropping unencodable event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(event.Type) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Slow consumer; skip rather than block the fan-out.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a WebSocket connection and runs its
// pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[events.EventType]bool),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			continue
		}
		c.apply(cmd)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
