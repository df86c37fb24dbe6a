// ABOUTME: Bidirectional maps between connections, rooms, actors, and invited agents
// ABOUTME: Builds the deduplicated participant list for a room from three membership sources

package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/parley-gateway/internal/store"
)

// Participant status constants
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Participant type constants
const (
	TypeUser  = "user"
	TypeAgent = "agent"
)

// Participant is one entry of a room's merged participant list.
type Participant struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Status string `json:"status"`
}

// Directory is the slice of the storage collaborator the registry reads from.
type Directory interface {
	GetRoom(ctx context.Context, id string) (*store.Room, error)
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	GetActor(ctx context.Context, id string) (*store.Actor, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]*store.RoomMember, error)
}

// Registry tracks which connections are in which rooms and which agents have
// been invited. Connection state is ephemeral and resets on restart.
type Registry struct {
	mu        sync.RWMutex
	roomConns map[string]map[string]struct{} // roomID -> connID set
	connRoom  map[string]string              // connID -> roomID
	connUser  map[string]string              // connID -> userID
	userConns map[string]map[string]struct{} // userID -> connID set
	invited   map[string]map[string]struct{} // roomID -> agentID set (legacy fallback)

	dir    Directory
	logger *slog.Logger
}

// New creates a Registry backed by the given directory. Pass nil logger for default.
func New(dir Directory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		roomConns: make(map[string]map[string]struct{}),
		connRoom:  make(map[string]string),
		connUser:  make(map[string]string),
		userConns: make(map[string]map[string]struct{}),
		invited:   make(map[string]map[string]struct{}),
		dir:       dir,
		logger:    logger.With("component", "registry"),
	}
}

// AddConnection places a connection in a room, moving it out of its previous
// room if it had one. userID may be empty for anonymous viewers.
func (r *Registry) AddConnection(roomID, connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.connRoom[connID]; ok && prev != roomID {
		r.detachLocked(prev, connID)
	}

	if _, ok := r.roomConns[roomID]; !ok {
		r.roomConns[roomID] = make(map[string]struct{})
	}
	r.roomConns[roomID][connID] = struct{}{}
	r.connRoom[connID] = roomID

	if userID != "" {
		r.connUser[connID] = userID
		if _, ok := r.userConns[userID]; !ok {
			r.userConns[userID] = make(map[string]struct{})
		}
		r.userConns[userID][connID] = struct{}{}
	}

	r.logger.Debug("connection joined room",
		"room_id", roomID, "conn_id", connID, "user_id", userID)
}

// RemoveConnection removes a connection from a room and all reverse maps.
func (r *Registry) RemoveConnection(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(roomID, connID)
}

// detachLocked removes a connection's room membership. Must hold mu.
func (r *Registry) detachLocked(roomID, connID string) {
	if conns, ok := r.roomConns[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.roomConns, roomID)
		}
	}
	delete(r.connRoom, connID)

	if userID, ok := r.connUser[connID]; ok {
		delete(r.connUser, connID)
		if conns, ok := r.userConns[userID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.userConns, userID)
			}
		}
	}
}

// RoomForConnection returns the room a connection is currently in.
func (r *Registry) RoomForConnection(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.connRoom[connID]
	return roomID, ok
}

// UserForConnection returns the user a connection authenticated as.
func (r *Registry) UserForConnection(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.connUser[connID]
	return userID, ok
}

// InviteAgent adds an agent to a room's invited set.
func (r *Registry) InviteAgent(roomID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invited[roomID]; !ok {
		r.invited[roomID] = make(map[string]struct{})
	}
	r.invited[roomID][agentID] = struct{}{}
}

// RemoveAgent removes an agent from a room's invited set.
func (r *Registry) RemoveAgent(roomID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if agents, ok := r.invited[roomID]; ok {
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(r.invited, roomID)
		}
	}
}

// InvitedAgents returns the invited-agent set for a room.
func (r *Registry) InvitedAgents(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.invited[roomID])
}

// Connections returns the connection IDs currently in a room.
// Implements bus.Resolver.
func (r *Registry) Connections(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.roomConns[roomID])
}

// ConnectionsForUser returns all connection IDs owned by a user.
// Implements bus.Resolver.
func (r *Registry) ConnectionsForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.userConns[userID])
}

// BuildParticipants merges three membership sources into one deduplicated
// list: connected users, the room's configured (or legacy) agents, and
// durable membership records. The dedup key is the canonical agent ID for
// agents and the owning user ID for users; the first source to insert a key
// wins and later sources never overwrite it.
func (r *Registry) BuildParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	r.mu.RLock()
	connIDs := lo.Keys(r.roomConns[roomID])
	users := lo.Uniq(lo.FilterMap(connIDs, func(connID string, _ int) (string, bool) {
		userID, ok := r.connUser[connID]
		return userID, ok
	}))
	invited := lo.Keys(r.invited[roomID])
	r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []Participant
	add := func(p Participant) {
		if _, ok := seen[p.ID]; ok {
			return
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}

	// Source (a): currently connected users, resolved to profiles.
	for _, userID := range users {
		add(r.resolveUser(ctx, userID, StatusOnline))
	}

	// Source (b): agents from the room's configured participant list,
	// falling back to the legacy room-ID-is-agent-ID convention, plus the
	// invited-agent set.
	agentIDs := invited
	room, err := r.dir.GetRoom(ctx, roomID)
	switch {
	case err == nil && len(room.Participants) > 0:
		agentIDs = append(append([]string{}, room.Participants...), agentIDs...)
	case err == nil || errors.Is(err, store.ErrNotFound):
		agentIDs = append([]string{roomID}, agentIDs...)
	default:
		return nil, err
	}
	for _, agentID := range lo.Uniq(agentIDs) {
		if p, ok := r.resolveAgent(ctx, agentID); ok {
			add(p)
		}
	}

	// Source (c): durable membership records, independent of connections.
	members, err := r.dir.ListRoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	for _, member := range members {
		actor, err := r.dir.GetActor(ctx, member.ActorID)
		if err != nil {
			continue
		}
		switch actor.Kind {
		case store.ActorKindAgent:
			agentID := actor.OwnerID
			if agentID == "" {
				agentID = actor.ID
			}
			if p, ok := r.resolveAgent(ctx, agentID); ok {
				add(p)
			}
		default:
			add(r.resolveUser(ctx, actor.ID, StatusOffline))
		}
	}

	return out, nil
}

// resolveUser canonicalizes a user or user-actor ID to its owning user ID and
// resolves display info from the actor record when one exists.
func (r *Registry) resolveUser(ctx context.Context, id, status string) Participant {
	p := Participant{ID: id, Type: TypeUser, Name: id, Status: status}
	actor, err := r.dir.GetActor(ctx, id)
	if err != nil {
		return p
	}
	if actor.OwnerID != "" {
		p.ID = actor.OwnerID
	}
	if actor.Name != "" {
		p.Name = actor.Name
	}
	p.Avatar = actor.Avatar
	return p
}

// resolveAgent resolves an agent ID to a participant entry. Unknown agent IDs
// are skipped rather than shown as ghosts.
func (r *Registry) resolveAgent(ctx context.Context, agentID string) (Participant, bool) {
	agent, err := r.dir.GetAgent(ctx, agentID)
	if err != nil {
		return Participant{}, false
	}
	return Participant{
		ID:     agent.ID,
		Type:   TypeAgent,
		Name:   agent.Name,
		Avatar: agent.Avatar,
		Status: StatusOnline,
	}, true
}
