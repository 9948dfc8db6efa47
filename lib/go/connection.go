// Package markitclient connects tools to a markit host: Connection speaks the
// view protocol over a WebSocket and Client calls the HTTP API.
package markitclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/zot/markit/internal/protocol"
)

// ErrNotConnected is returned by Send after Disconnect.
var ErrNotConnected = errors.New("not connected")

// Connection is one view's link to the host.
type Connection struct {
	conn      *websocket.Conn
	connected bool
	onClose   func()
	mu        sync.RWMutex
	writeMu   sync.Mutex
}

// ViewURL turns a host URL such as http://127.0.0.1:7317 into its WebSocket
// endpoint.
func ViewURL(host string) (string, error) {
	u, err := url.Parse(host)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}

// Dial connects to the host at hostURL.
func Dial(ctx context.Context, hostURL string) (*Connection, error) {
	wsURL, err := ViewURL(hostURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &Connection{conn: conn, connected: true}, nil
}

// Disconnect closes the connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	onClose := c.onClose
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if onClose != nil {
		onClose()
	}
	return c.conn.Close()
}

// IsConnected returns the connection state.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// OnClose registers a callback for connection close.
func (c *Connection) OnClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Send writes one message. It implements view.Sender.
func (c *Connection) Send(msg protocol.Message) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks for the next message from the host.
func (c *Connection) Receive() (protocol.Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Listen delivers every message from the host to fn until the connection
// closes or ctx is done. Undecodable frames are passed to onError and skipped.
func (c *Connection) Listen(ctx context.Context, fn func(protocol.Message), onError func(error)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Disconnect()
		case <-done:
		}
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || !c.IsConnected() {
				return ctx.Err()
			}
			c.Disconnect()
			return err
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		fn(msg)
	}
}
