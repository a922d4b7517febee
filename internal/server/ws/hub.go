// Package ws streams committed ledger notifications to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Topics a client can follow. Besides the notification kinds, "event:{id}"
// follows every notification for one event.
var defaultTopics = []string{
	string(domain.NotificationListingCreated),
	string(domain.NotificationItemSold),
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
}

// subscribeMsg is what a client sends to change its topics.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// envelope is every frame the hub writes.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Config describes the ledger in the greeting sent on connect.
type Config struct {
	LedgerAddress     string
	CommissionPercent uint8
	StartedAt         time.Time
	// AllowedOrigins restricts the Origin header of upgrades; empty allows
	// any origin.
	AllowedOrigins []string
}

// Hub fans notifications out to connected WebSocket clients.
type Hub struct {
	cfg        Config
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan domain.Notification
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. Run must be started before clients connect.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[*client]bool),
		broadcast:  make(chan domain.Notification, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Notify implements domain.Subscriber. It never blocks the ledger: when the
// hub is backed up the notification is dropped for WebSocket clients only.
func (h *Hub) Notify(ctx context.Context, n domain.Notification) error {
	select {
	case h.broadcast <- n:
	case <-h.done:
	default:
		h.logger.WarnContext(ctx, "hub backlog full, dropping notification",
			slog.String("notification_id", n.ID),
		)
	}
	return nil
}

// Broadcast is Notify for callers without a context, such as a bus listener.
func (h *Hub) Broadcast(n domain.Notification) {
	_ = h.Notify(context.Background(), n)
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", total))

		case n := <-h.broadcast:
			data, err := json.Marshal(envelope{Type: "notification", Payload: n})
			if err != nil {
				h.logger.Error("marshal notification", slog.String("error", err.Error()))
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(n) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping notification for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]bool),
	}
	for _, t := range defaultTopics {
		c.topics[t] = true
	}
	// Queued while c.send is still ours; once registered, Run may close it.
	c.greet()

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) greet() {
	msg, err := json.Marshal(envelope{Type: "hello", Payload: map[string]any{
		"ledger":             c.hub.cfg.LedgerAddress,
		"commission_percent": c.hub.cfg.CommissionPercent,
		"started_at":         c.hub.cfg.StartedAt,
		"topics":             defaultTopics,
	}})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) follows(n domain.Notification) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[string(n.Kind)] || c.topics["event:"+strconv.FormatUint(n.Item.EventID, 10)]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.apply(sub)
	}
}

func (c *client) apply(sub subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range sub.Topics {
		switch sub.Action {
		case "subscribe":
			c.topics[t] = true
		case "unsubscribe":
			delete(c.topics, t)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ domain.Subscriber = (*Hub)(nil)
