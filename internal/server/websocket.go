package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/roehn/internal/events"
	"github.com/muurk/roehn/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames; anything bigger is a protocol error
	maxMessageSize = 512

	// Per-client outbound buffer; a client that falls this far behind is dropped
	sendBufferSize = 64
)

// Feed message types
const (
	MessageHello  = "hello"
	MessageButton = "button"
)

// FeedMessage is the JSON document pushed to feed clients. A hello carries
// the session id and the current button states; a button message carries
// one event.
type FeedMessage struct {
	Type    string                `json:"type"`
	Session string                `json:"session,omitempty"`
	Event   *events.ButtonEvent   `json:"event,omitempty"`
	Buttons []events.ButtonStatus `json:"buttons,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only and unauthenticated; any origin may read it
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans button events out to the connected feed clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	id   string
	addr string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues data without blocking. It reports false when the buffer is full.
func (c *feedClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *feedClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*feedClient]struct{})}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes ev to every client. Clients whose buffer is full are
// disconnected instead of slowing down the others.
func (h *Hub) Broadcast(ev events.ButtonEvent) {
	data, err := json.Marshal(FeedMessage{Type: MessageButton, Event: &ev})
	if err != nil {
		logging.Error("Failed to encode button event", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(data) {
			logging.Warn("Dropping slow feed client",
				zap.String("session", c.id),
				zap.String("remote_addr", c.addr),
			)
			h.unregister(c)
		}
	}
}

func (h *Hub) register(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logging.LogConnection(c.addr, "feed_client_connected")
}

// unregister removes c and closes its send channel
func (h *Hub) unregister(c *feedClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		c.close()
		logging.LogConnection(c.addr, "feed_client_disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*feedClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// serveFeed upgrades the request and streams events until the client leaves
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	c := &feedClient{
		id:   uuid.NewString(),
		addr: r.RemoteAddr,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	// Broadcasts block on c.mu until the hello is queued, so an event that
	// arrives while the snapshot is taken follows the hello instead of
	// being lost.
	c.mu.Lock()
	s.hub.register(c)
	hello, err := json.Marshal(FeedMessage{Type: MessageHello, Session: c.id, Buttons: s.source.ButtonSnapshot()})
	if err == nil {
		c.send <- hello
	}
	c.mu.Unlock()
	if err != nil {
		s.hub.unregister(c)
		conn.Close()
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump(s.hub)
	}()
}

// readPump discards client messages and notices disconnects
func (c *feedClient) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Feed client read error", zap.String("session", c.id), zap.Error(err))
			}
			return
		}
		logging.LogWebSocketMessage(c.addr, "received", data)
	}
}

func (c *feedClient) writePump() {
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
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			logging.LogWebSocketMessage(c.addr, "sent", message)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
