// ABOUTME: Message bus that frames and delivers JSON-RPC responses and notifications
// ABOUTME: Fans out to one connection, a room, an actor's connections, or everyone

package bus

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/2389/parley-gateway/internal/rpc"
)

// Conn is the transport handle the bus writes to. Implementations must be
// safe for concurrent Send calls.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Open() bool
}

// Resolver maps rooms and users to the connection IDs currently serving them.
// Implemented by the connection/room registry.
type Resolver interface {
	Connections(roomID string) []string
	ConnectionsForUser(userID string) []string
}

// Bus delivers outbound frames. Writes to connections whose transport is no
// longer open are silently dropped; presence errors are not request failures.
type Bus struct {
	mu       sync.RWMutex
	conns    map[string]Conn
	resolver Resolver
	logger   *slog.Logger
}

// New creates a Bus. Pass nil logger for default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		conns:  make(map[string]Conn),
		logger: logger.With("component", "bus"),
	}
}

// SetResolver wires the room/user-to-connection resolver. Must be called
// before any broadcast method.
func (b *Bus) SetResolver(r Resolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolver = r
}

// Register adds a connection to the bus.
func (b *Bus) Register(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn.ID()] = conn
}

// Unregister removes a connection from the bus.
func (b *Bus) Unregister(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, connID)
}

// SendToConnection writes an arbitrary frame to one connection.
func (b *Bus) SendToConnection(connID string, frame any) {
	b.mu.RLock()
	conn, ok := b.conns[connID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.write(conn, frame)
}

// SendResponse writes a successful JSON-RPC response to one connection.
func (b *Bus) SendResponse(connID string, requestID json.RawMessage, result any) {
	b.SendToConnection(connID, rpc.NewResponse(requestID, result))
}

// SendError writes a JSON-RPC error response to one connection.
func (b *Bus) SendError(connID string, requestID json.RawMessage, code int, message string) {
	b.SendToConnection(connID, rpc.NewErrorResponse(requestID, code, message))
}

// BroadcastToRoom sends a notification to every connection in a room.
// Frames for one room are delivered in the order they were enqueued.
func (b *Bus) BroadcastToRoom(roomID, method string, params any) {
	b.fanOut(b.resolve().Connections(roomID), method, params)
}

// EmitToUser sends a notification to every connection owned by a user.
func (b *Bus) EmitToUser(userID, method string, params any) {
	b.fanOut(b.resolve().ConnectionsForUser(userID), method, params)
}

// BroadcastToAll sends a notification to every registered connection.
func (b *Bus) BroadcastToAll(method string, params any) {
	b.mu.RLock()
	targets := make([]Conn, 0, len(b.conns))
	for _, conn := range b.conns {
		targets = append(targets, conn)
	}
	b.mu.RUnlock()

	frame := rpc.NewNotification(method, params)
	for _, conn := range targets {
		b.write(conn, frame)
	}
}

func (b *Bus) resolve() Resolver {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.resolver == nil {
		return emptyResolver{}
	}
	return b.resolver
}

// fanOut delivers one notification frame to a set of connection IDs.
func (b *Bus) fanOut(connIDs []string, method string, params any) {
	if len(connIDs) == 0 {
		return
	}

	// Copy targets under read lock to avoid holding the lock during writes
	b.mu.RLock()
	targets := make([]Conn, 0, len(connIDs))
	for _, id := range connIDs {
		if conn, ok := b.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	b.mu.RUnlock()

	frame := rpc.NewNotification(method, params)
	for _, conn := range targets {
		b.write(conn, frame)
	}
}

// write marshals and delivers one frame, dropping it if the transport is
// closed or the write fails. No retry.
func (b *Bus) write(conn Conn, frame any) {
	if !conn.Open() {
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error("frame marshal failed", "conn_id", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		b.logger.Debug("dropped frame for closed connection", "conn_id", conn.ID(), "error", err)
	}
}

type emptyResolver struct{}

func (emptyResolver) Connections(string) []string        { return nil }
func (emptyResolver) ConnectionsForUser(string) []string { return nil }
