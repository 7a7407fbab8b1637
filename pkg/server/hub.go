package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/entrhq/testpilot/pkg/logging"
	"github.com/entrhq/testpilot/pkg/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 128
)

// ClientMessage is what a WebSocket client may send.
type ClientMessage struct {
	Action   string                     `json:"action"`
	ID       string                     `json:"id"`
	Decision types.InterventionDecision `json:"decision"`
}

// ServerMessage wraps everything the hub sends.
type ServerMessage struct {
	Type  string          `json:"type"`
	Event *types.RunEvent `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Hub fans run events out to WebSocket clients and accepts resolutions from
// them.
type Hub struct {
	gateway  Gateway
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool
}

type client struct {
	conn    *websocket.Conn
	send    chan ServerMessage
	once    sync.Once
	writeMu sync.Mutex
}

// NewHub creates a Hub.
func NewHub(gateway Gateway, logger *logging.Logger) *Hub {
	return &Hub{
		gateway: gateway,
		logger:  logger,
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Publish implements types.EventSink. Slow clients drop events rather than
// stall the run.
func (h *Hub) Publish(event *types.RunEvent) {
	msg := ServerMessage{Type: "event", Event: event}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warnf("event client lagging; dropped %s", event.Type)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
}

// HandleWebSocket upgrades the request and serves the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan ServerMessage, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Infof("event client connected from %s", r.RemoteAddr)

	// Snapshot of open requests so late joiners can answer them.
	for _, req := range h.gateway.Pending() {
		h.deliver(c, ServerMessage{Type: "event", Event: types.NewInterventionPendingEvent(req)})
	}

	go c.writePump()
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		c.stop()
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf("websocket read error: %v", err)
			}
			return
		}

		switch msg.Action {
		case "resolve":
			msg.Decision.Source = types.SourceHuman
			reply := ServerMessage{Type: "resolved", ID: msg.ID}
			if err := h.gateway.Resolve(msg.ID, msg.Decision); err != nil {
				reply = ServerMessage{Type: "error", ID: msg.ID, Error: err.Error()}
			} else {
				h.logger.Infof("intervention %s resolved over websocket: %s", msg.ID, msg.Decision.Action)
			}
			h.deliver(c, reply)
		default:
			h.deliver(c, ServerMessage{Type: "error", Error: "unknown action " + msg.Action})
		}
	}
}

// deliver queues msg for one client if it is still connected.
func (h *Hub) deliver(c *client, msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.logger.Warnf("event client lagging; dropped %s message", msg.Type)
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.send) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.writeMu.Unlock()
				return
			}
			err := c.conn.WriteJSON(msg)
			c.writeMu.Unlock()
			if err != nil {
				return
			}

		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
