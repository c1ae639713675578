// Package ws pushes the thought list to browsers over WebSocket every time
// the board changes.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"passing.thoughts/internal/models"
)

const (
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before the connection is dead.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16

	listTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source is the board as seen by the hub.
type Source interface {
	List(ctx context.Context) ([]models.Thought, error)
	Subscribe() (<-chan struct{}, func())
}

// Message is the envelope sent on connect and after every change.
type Message struct {
	Event string           `json:"event"`
	Data  []models.Thought `json:"data"`
}

type Hub struct {
	source Source
	log    *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func New(source Source, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		source:  source,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// Run broadcasts the list on every board change until ctx is cancelled, then
// closes all connections.
func (h *Hub) Run(ctx context.Context) {
	changes, unsubscribe := h.source.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-changes:
			h.broadcast(ctx)
		}
	}
}

// ServeHTTP upgrades the connection, sends the current list, and then keeps
// the client registered for broadcasts until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(r.Context(), c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register queues the current list as the client's first message. Holding
// the write lock keeps broadcasts from queuing ahead of it.
func (h *Hub) register(ctx context.Context, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	data, err := h.buildMessage(ctx)
	if err != nil {
		h.log.Warn("building initial thoughts message", zap.Error(err))
		return
	}
	c.send <- data
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(ctx context.Context) {
	data, err := h.buildMessage(ctx)
	if err != nil {
		h.log.Error("building thoughts message", zap.Error(err))
		return
	}

	// send under the read lock so unregister cannot close c.send mid-send
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.unregister(c)
	}
}

func (h *Hub) buildMessage(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	thoughts, err := h.source.List(ctx)
	if err != nil {
		return nil, err
	}
	if thoughts == nil {
		thoughts = []models.Thought{}
	}
	return json.Marshal(Message{Event: "thoughts", Data: thoughts})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames; it returns when the peer goes away.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
