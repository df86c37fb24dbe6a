// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	rooms    map[string]*Room                  // keyed by room ID
	messages map[string][]*Message             // keyed by room ID
	agents   map[string]*Agent                 // keyed by agent ID
	actors   map[string]*Actor                 // keyed by actor ID
	members  map[string]map[string]*RoomMember // roomID -> actorID -> member
	markers  map[string]map[string]*ReadMarker // roomID -> actorID -> marker
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		rooms:    make(map[string]*Room),
		messages: make(map[string][]*Message),
		agents:   make(map[string]*Agent),
		actors:   make(map[string]*Actor),
		members:  make(map[string]map[string]*RoomMember),
		markers:  make(map[string]map[string]*ReadMarker),
	}
}

// CreateRoom stores a new room.
func (m *MockStore) CreateRoom(ctx context.Context, room *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[room.ID]; exists {
		return ErrDuplicateRoom
	}
	// Make a copy to avoid external modification
	r := *room
	m.rooms[r.ID] = &r
	return nil
}

// GetRoom retrieves a room by ID.
func (m *MockStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	r := *room
	return &r, nil
}

// ListRooms returns all rooms ordered by creation time.
func (m *MockStore) ListRooms(ctx context.Context) ([]*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		r := *room
		rooms = append(rooms, &r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := *msg
	if s.Type == "" {
		s.Type = MessageTypeMessage
	}
	m.messages[s.RoomID] = append(m.messages[s.RoomID], &s)
	return nil
}

// GetMessagesByRoom returns messages for a room, oldest first.
func (m *MockStore) GetMessagesByRoom(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[roomID]
	out := make([]*Message, len(msgs))
	for i, msg := range msgs {
		c := *msg
		out[i] = &c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// UpsertAgent inserts or replaces an agent persona.
func (m *MockStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := *agent
	return &a, nil
}

// ListAgents returns all configured agents.
func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		a := *agent
		agents = append(agents, &a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// UpsertActor inserts or replaces an actor record.
func (m *MockStore) UpsertActor(ctx context.Context, actor *Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := *actor
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	m.actors[a.ID] = &a
	return nil
}

// GetActor retrieves an actor by ID.
func (m *MockStore) GetActor(ctx context.Context, id string) (*Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actor, ok := m.actors[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := *actor
	return &a, nil
}

// AddRoomMember records durable room membership. Idempotent.
func (m *MockStore) AddRoomMember(ctx context.Context, member *RoomMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[member.RoomID]; !ok {
		m.members[member.RoomID] = make(map[string]*RoomMember)
	}
	if _, exists := m.members[member.RoomID][member.ActorID]; exists {
		return nil
	}
	mm := *member
	if mm.JoinedAt.IsZero() {
		mm.JoinedAt = time.Now()
	}
	m.members[member.RoomID][member.ActorID] = &mm
	return nil
}

// ListRoomMembers returns the durable membership records for a room.
func (m *MockStore) ListRoomMembers(ctx context.Context, roomID string) ([]*RoomMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members []*RoomMember
	for _, member := range m.members[roomID] {
		mm := *member
		members = append(members, &mm)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ActorID < members[j].ActorID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

// RemoveRoomMember deletes a durable membership record.
func (m *MockStore) RemoveRoomMember(ctx context.Context, roomID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.members[roomID], actorID)
	return nil
}

// SaveReadMarker upserts the last-read marker for (room, actor).
func (m *MockStore) SaveReadMarker(ctx context.Context, marker *ReadMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.markers[marker.RoomID]; !ok {
		m.markers[marker.RoomID] = make(map[string]*ReadMarker)
	}
	mm := *marker
	m.markers[marker.RoomID][marker.ActorID] = &mm
	return nil
}

// ListReadMarkers returns all read markers for a room.
func (m *MockStore) ListReadMarkers(ctx context.Context, roomID string) ([]*ReadMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var markers []*ReadMarker
	for _, marker := range m.markers[roomID] {
		mm := *marker
		markers = append(markers, &mm)
	}
	sort.Slice(markers, func(i, j int) bool { return markers[i].ActorID < markers[j].ActorID })
	return markers, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
