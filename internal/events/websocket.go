package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jamibilling/rdn-billing/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Maximum number of queued messages before dropping.
	sendBufferSize = 256
)

// ErrHubFull is returned when the broadcast queue cannot take an event.
var ErrHubFull = errors.New("broadcast channel full")

// HubConfig holds WebSocket hub configuration.
type HubConfig struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBufferSize int
	AllowedOrigins []string
}

// DefaultHubConfig returns sensible defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteWait:      writeWait,
		PongWait:       pongWait,
		PingPeriod:     pingPeriod,
		MaxMessageSize: maxMessageSize,
		SendBufferSize: sendBufferSize,
		AllowedOrigins: []string{"*"},
	}
}

// HubMetrics holds WebSocket counters.
type HubMetrics struct {
	ConnectionsTotal   atomic.Int64
	ConnectionsCurrent atomic.Int64
	MessagesSent       atomic.Int64
	MessagesDropped    atomic.Int64
	Errors             atomic.Int64
}

// Hub streams case events to WebSocket clients. A client connected with a
// session_id only receives that session's events; topics narrow it further
// to the named subjects.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	config     HubConfig
	logger     *logger.Logger
	metrics    HubMetrics
	upgrader   websocket.Upgrader
	cancel     context.CancelFunc
	done       chan struct{}
}

type client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	mu        sync.RWMutex
	topics    map[string]bool
}

// clientMessage is sent by clients to change their subscriptions.
type clientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// NewHub creates a hub. Start must be called before events are delivered.
func NewHub(cfg HubConfig, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	def := DefaultHubConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = (cfg.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		config:     cfg,
		logger:     log.WithComponent("websocket_hub"),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.AllowedOrigins) == 0 || cfg.AllowedOrigins[0] == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Start runs the hub loop. When bus is non-nil the hub also relays every
// case event published on NATS.
func (h *Hub) Start(ctx context.Context, bus *Bus) error {
	ctx, h.cancel = context.WithCancel(ctx)

	if bus != nil {
		if _, err := bus.Subscribe(SubjectAll, "", func(e Event) {
			if err := h.Publish(ctx, e); err != nil {
				h.logger.WithError(err).Debug("relay dropped event", "subject", e.Subject)
			}
		}); err != nil {
			h.cancel()
			return fmt.Errorf("failed to relay case events: %w", err)
		}
	}

	go h.run(ctx)
	h.logger.Info("WebSocket hub started", "relay", bus != nil)
	return nil
}

// Stop closes every client connection.
func (h *Hub) Stop(context.Context) error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}

	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	h.logger.Info("WebSocket hub stopped")
	return nil
}

// Publish implements Publisher. It never blocks.
func (h *Hub) Publish(_ context.Context, e Event) error {
	select {
	case h.broadcast <- e:
		return nil
	default:
		h.metrics.MessagesDropped.Add(1)
		return ErrHubFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.metrics.ConnectionsTotal.Add(1)
			h.metrics.ConnectionsCurrent.Add(1)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.metrics.ConnectionsCurrent.Add(-1)
			}
			h.mu.Unlock()

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				h.metrics.Errors.Add(1)
				h.logger.WithError(err).Error("failed to marshal event")
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(e) {
					continue
				}
				select {
				case c.send <- data:
					h.metrics.MessagesSent.Add(1)
				default:
					h.metrics.MessagesDropped.Add(1)
					h.logger.Debug("client buffer full, dropping message", "client_id", c.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket connection. Query
// parameters: session_id and topics (comma-separated subjects).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("failed to upgrade connection")
		h.metrics.Errors.Add(1)
		return
	}

	c := &client{
		id:        uuid.New().String(),
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, h.config.SendBufferSize),
		sessionID: r.URL.Query().Get("session_id"),
		topics:    make(map[string]bool),
	}
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			c.topics[t] = true
		}
	}

	select {
	case h.register <- c:
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()

	h.logger.Debug("WebSocket client connected", "client_id", c.id, "session_id", c.sessionID, "topics", len(c.topics))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Metrics returns current counters.
func (h *Hub) Metrics() map[string]int64 {
	return map[string]int64{
		"connections_total":   h.metrics.ConnectionsTotal.Load(),
		"connections_current": h.metrics.ConnectionsCurrent.Load(),
		"messages_sent":       h.metrics.MessagesSent.Load(),
		"messages_dropped":    h.metrics.MessagesDropped.Load(),
		"errors":              h.metrics.Errors.Load(),
	}
}

// wants reports whether the client should receive e.
func (c *client) wants(e Event) bool {
	if c.sessionID != "" && e.SessionID != c.sessionID {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics) == 0 || c.topics[e.Subject]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.config.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("client disconnected unexpectedly", "client_id", c.id, "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		if msg.Topic != "" {
			c.topics[msg.Topic] = true
		}
	case "unsubscribe":
		delete(c.topics, msg.Topic)
	}
}
