// ABOUTME: Store interface and data types for parley-gateway persistence
// ABOUTME: Defines Room, Message, Agent, Actor structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRoom is returned when trying to create a room that already exists
var ErrDuplicateRoom = errors.New("room already exists")

// Room kind constants
const (
	RoomKindDM    = "dm"    // direct message between two users, no agents
	RoomKindAgent = "agent" // a user talking to a single agent
	RoomKindGroup = "group" // multi-agent group conversation
)

// Room represents a conversation scope
type Room struct {
	ID             string
	Kind           string // "dm", "agent", "group"
	Name           string
	Participants   []string // configured agent IDs, may be empty
	PrimaryAgentID string   // agent the room is built around, may be empty
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageType constants for message types
const (
	MessageTypeMessage    = "message"     // Regular text message
	MessageTypeToolUse    = "tool_use"    // Tool invocation
	MessageTypeToolResult = "tool_result" // Tool result
)

// Message represents a single message within a room
type Message struct {
	ID        string
	RoomID    string
	AuthorID  string // actor ID of the author (user or agent)
	Content   string
	Type      string // "message", "tool_use", "tool_result" (defaults to "message")
	ToolName  string // For tool_use: name of the tool being called
	ToolID    string // Links tool_use to its corresponding tool_result
	CreatedAt time.Time
}

// Agent represents a configured persona that can respond in rooms
type Agent struct {
	ID              string
	Name            string
	Slug            string
	Avatar          string
	Interests       []string // keywords used for participation scoring
	CooldownSeconds int
	Primary         bool
	Model           string
	SystemPrompt    string
}

// Actor kind constants
const (
	ActorKindUser  = "user"
	ActorKindAgent = "agent"
)

// Actor is a canonical identity (user or agent) independent of any connection.
// User actors carry OwnerID pointing back to the owning user account, so
// aliases of the same human can be collapsed to one participant.
type Actor struct {
	ID        string
	Kind      string // "user" or "agent"
	OwnerID   string // owning user ID for user actors, agent ID for agent actors
	Name      string
	Avatar    string
	CreatedAt time.Time
}

// RoomMember is a durable room membership record, independent of whether the
// actor currently has a live connection.
type RoomMember struct {
	RoomID   string
	ActorID  string
	JoinedAt time.Time
}

// ReadMarker records the last message an actor has acknowledged in a room
type ReadMarker struct {
	RoomID    string
	ActorID   string
	MessageID string
	ReadAt    time.Time
}

// Store defines the persistence collaborator consumed by the orchestration core
type Store interface {
	// Room operations
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id string) (*Room, error)
	ListRooms(ctx context.Context) ([]*Room, error)

	// Message operations
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessagesByRoom(ctx context.Context, roomID string, limit int) ([]*Message, error)

	// Agent (persona) operations
	UpsertAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	// Actor operations
	UpsertActor(ctx context.Context, actor *Actor) error
	GetActor(ctx context.Context, id string) (*Actor, error)

	// Durable room membership
	AddRoomMember(ctx context.Context, member *RoomMember) error
	ListRoomMembers(ctx context.Context, roomID string) ([]*RoomMember, error)
	RemoveRoomMember(ctx context.Context, roomID, actorID string) error

	// Read markers
	SaveReadMarker(ctx context.Context, marker *ReadMarker) error
	ListReadMarkers(ctx context.Context, roomID string) ([]*ReadMarker, error)

	// Close releases underlying resources
	Close() error
}
