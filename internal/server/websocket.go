// Package server hosts the authoritative store: a WebSocket endpoint for
// views, an HTTP API for capture and inspection, and an optional MCP server.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/markit/internal/config"
	"github.com/zot/markit/internal/protocol"
	"github.com/zot/markit/internal/svc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // views are local tools
	},
}

// MessageHandler processes decoded view messages. Calls run on the
// endpoint's queue.
type MessageHandler interface {
	HandleViewMessage(connectionID string, msg protocol.Message)
	HandleDisconnect(connectionID string)
}

// connection is one view. Frames are written only by its write pump, in the
// order they were queued.
type connection struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	initialized bool
	closeOnce   sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// WebSocketEndpoint handles WebSocket connections.
type WebSocketEndpoint struct {
	config      *config.Config
	queue       *svc.Queue
	handler     MessageHandler
	connections map[string]*connection
	mu          sync.RWMutex
}

// NewWebSocketEndpoint creates a new WebSocket endpoint.
func NewWebSocketEndpoint(cfg *config.Config, queue *svc.Queue, handler MessageHandler) *WebSocketEndpoint {
	return &WebSocketEndpoint{
		config:      cfg,
		queue:       queue,
		handler:     handler,
		connections: make(map[string]*connection),
	}
}

// Log logs a message via the config.
func (ws *WebSocketEndpoint) Log(level int, format string, args ...interface{}) {
	ws.config.Log(level, format, args...)
}

// HandleWebSocket upgrades the request and starts the pumps.
func (ws *WebSocketEndpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}

	c := &connection{
		id:   generateConnectionID(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	ws.mu.Lock()
	ws.connections[c.id] = c
	ws.mu.Unlock()

	ws.Log(1, "WebSocket connected: conn=%s remote=%s", c.id, r.RemoteAddr)

	go ws.writePump(c)
	go ws.readPump(c)
}

// readPump reads frames, validates them and queues them for the handler.
func (ws *WebSocketEndpoint) readPump(c *connection) {
	defer func() {
		ws.onDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.Log(0, "WebSocket error: %v", err)
			}
			return
		}

		if ws.config.Verbosity() >= 4 {
			ws.Log(4, "[IN] conn=%s data=%s", c.id, string(data))
		}
		msg, err := protocol.DecodeFromView(data)
		if err != nil {
			ws.Log(0, "Rejected frame from %s: %v", c.id, err)
			continue
		}
		ws.Log(2, "[IN] %s: conn=%s", msg.Action(), c.id)

		id := c.id
		ws.queue.Post(func() {
			ws.handler.HandleViewMessage(id, msg)
		})
	}
}

// writePump writes queued frames and keeps the connection alive.
func (ws *WebSocketEndpoint) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.Log(1, "WebSocket write failed: conn=%s: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// onDisconnect handles connection close.
func (ws *WebSocketEndpoint) onDisconnect(c *connection) {
	ws.mu.Lock()
	delete(ws.connections, c.id)
	ws.mu.Unlock()
	c.close()

	ws.Log(1, "WebSocket disconnected: conn=%s", c.id)
	id := c.id
	ws.queue.Post(func() {
		ws.handler.HandleDisconnect(id)
	})
}

// enqueue hands data to c's write pump. A view too slow to keep up is
// disconnected; it resynchronizes with init when it reconnects.
func (ws *WebSocketEndpoint) enqueue(c *connection, data []byte) {
	defer func() {
		recover() // send on a connection closed concurrently
	}()
	select {
	case c.send <- data:
	default:
		ws.Log(0, "WebSocket send buffer full, dropping conn=%s", c.id)
		c.close()
	}
}

// Send sends a message to one connection.
func (ws *WebSocketEndpoint) Send(connectionID string, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	ws.mu.RLock()
	c, ok := ws.connections[connectionID]
	ws.mu.RUnlock()
	if !ok {
		return nil
	}
	ws.logOut(msg, connectionID, data)
	ws.enqueue(c, data)
	return nil
}

// Broadcast sends a message to every connection that has requested init.
func (ws *WebSocketEndpoint) Broadcast(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	ws.mu.RLock()
	var targets []*connection
	for _, c := range ws.connections {
		if c.initialized {
			targets = append(targets, c)
		}
	}
	ws.mu.RUnlock()

	ws.logOut(msg, "views", data)
	for _, c := range targets {
		ws.enqueue(c, data)
	}
	return nil
}

func (ws *WebSocketEndpoint) logOut(msg protocol.Message, to string, data []byte) {
	if ws.config.Verbosity() >= 4 {
		ws.Log(4, "[OUT] %s: to=%s data=%s", msg.Action(), to, string(data))
	} else {
		ws.Log(2, "[OUT] %s: to=%s", msg.Action(), to)
	}
}

// MarkInitialized records that a connection has requested the snapshot and
// should receive deltas.
func (ws *WebSocketEndpoint) MarkInitialized(connectionID string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if c, ok := ws.connections[connectionID]; ok {
		c.initialized = true
	}
}

// InitializedCount returns the number of connections receiving deltas.
func (ws *WebSocketEndpoint) InitializedCount() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	n := 0
	for _, c := range ws.connections {
		if c.initialized {
			n++
		}
	}
	return n
}

// Count returns the number of open connections.
func (ws *WebSocketEndpoint) Count() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.connections)
}

// CloseAll closes every connection.
func (ws *WebSocketEndpoint) CloseAll() {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	for _, c := range ws.connections {
		c.close()
	}
}

func generateConnectionID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return "conn-" + hex.EncodeToString(bytes)
}
