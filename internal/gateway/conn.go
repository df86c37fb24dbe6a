// ABOUTME: WebSocket connection adapter implementing the bus transport handle
// ABOUTME: Serializes writes and tracks open state across goroutines

package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var errConnClosed = errors.New("connection closed")

// wsConn wraps a websocket connection as a bus.Conn. The websocket library
// allows one concurrent writer, so Send holds a mutex.
type wsConn struct {
	id     string
	sock   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func newWSConn(sock *websocket.Conn) *wsConn {
	return &wsConn{id: uuid.New().String(), sock: sock}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Open() bool { return !c.closed.Load() }

func (c *wsConn) Send(payload []byte) error {
	if c.closed.Load() {
		return errConnClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// Writes use a background context: a response that finishes server-side
	// after the originating request's context ends must still be delivered.
	return c.sock.Write(context.Background(), websocket.MessageText, payload)
}

func (c *wsConn) close(code websocket.StatusCode, reason string) {
	if c.closed.Swap(true) {
		return
	}
	_ = c.sock.Close(code, reason)
}
