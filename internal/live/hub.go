package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

const visibilityTimeout = 2 * time.Second

type client struct {
	id        string
	principal shared.Principal
	conn      *websocket.Conn
	send      chan []byte
}

// Finder loads the entity an event names as p would read it through the
// API. It returns an error when p may not see it.
type Finder func(ctx context.Context, p shared.Principal, id int64) error

// Hub keeps the connected live clients and broadcasts events to them. Staff
// receive every event. Customers only receive events about entities a
// finder registered for the topic lets them read.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	finders  map[string]Finder
	upgrader websocket.Upgrader
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewHub constructs an empty hub.
func NewHub(metrics *observability.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		finders: make(map[string]Finder),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Authorize registers the access check for topic. Call it before serving.
func (h *Hub) Authorize(topic string, f Finder) {
	h.mu.Lock()
	h.finders[topic] = f
	h.mu.Unlock()
}

// Run relays broker events to the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, broker *Broker) error {
	err := broker.Subscribe(ctx, h.Broadcast)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Broadcast queues evt for every client allowed to see it. Slow clients
// whose buffer is full are disconnected.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Warn("marshal live event", slog.Any("error", err))
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	find := h.finders[evt.Topic]
	h.mu.RUnlock()

	var slow []*client
	for _, c := range targets {
		if !h.visible(c.principal, evt, find) {
			continue
		}
		if !h.queue(c, data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.logger.Warn("drop slow live client", slog.String("client_id", c.id))
		h.remove(c)
	}
}

func (h *Hub) visible(p shared.Principal, evt Event, find Finder) bool {
	if p.Role.IsStaff() {
		return true
	}
	if find == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), visibilityTimeout)
	defer cancel()
	return find(ctx, p, evt.ID) == nil
}

// queue hands data to c unless c was removed meanwhile or its buffer is full.
func (h *Hub) queue(c *client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades an authenticated request to a WebSocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, shared.ErrNoPrincipal.Error(), http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("live upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{id: uuid.NewString(), principal: p, conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(c)
	h.logger.Info("live client connected", slog.String("client_id", c.id), slog.String("role", string(p.Role)))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.LiveClients(1)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.LiveClients(-1)
	}
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
