// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides room/message/agent persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL DEFAULT 'group',
			name TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL DEFAULT '',
			primary_agent_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'message',
			tool_name TEXT,
			tool_id TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_id
			ON messages(room_id);

		CREATE INDEX IF NOT EXISTS idx_messages_room_created
			ON messages(room_id, created_at);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			interests TEXT NOT NULL DEFAULT '',
			cooldown_seconds INTEGER NOT NULL DEFAULT 0,
			is_primary INTEGER NOT NULL DEFAULT 0,
			model TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS actors (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			avatar TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			joined_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, actor_id)
		);

		CREATE TABLE IF NOT EXISTS read_markers (
			room_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			read_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, actor_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// joinList serializes a string slice into a comma-separated column value
func joinList(items []string) string {
	return strings.Join(items, ",")
}

// splitList deserializes a comma-separated column value into a slice
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// CreateRoom stores a new room. Returns ErrDuplicateRoom if the ID exists.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, kind, name, participants, primary_agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Kind, room.Name, joinList(room.Participants),
		room.PrimaryAgentID, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateRoom
		}
		return fmt.Errorf("inserting room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	room := &Room{}
	var participants string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, participants, primary_agent_id, created_at, updated_at
		FROM rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Kind, &room.Name, &participants,
		&room.PrimaryAgentID, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	room.Participants = splitList(participants)
	return room, nil
}

// ListRooms returns all rooms ordered by creation time.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, participants, primary_agent_id, created_at, updated_at
		FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("querying rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room := &Room{}
		var participants string
		if err := rows.Scan(&room.ID, &room.Kind, &room.Name, &participants,
			&room.PrimaryAgentID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		room.Participants = splitList(participants)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// SaveMessage stores a message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageTypeMessage
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, author_id, content, type, tool_name, tool_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Content, msgType,
		nullable(msg.ToolName), nullable(msg.ToolID), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessagesByRoom returns messages for a room, oldest first.
// If limit > 0, only the most recent `limit` messages are returned.
func (s *SQLiteStore) GetMessagesByRoom(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, room_id, author_id, content, type, tool_name, tool_id, created_at
		FROM messages WHERE room_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{roomID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var toolName, toolID sql.NullString
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Content,
			&msg.Type, &toolName, &toolID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.ToolName = toolName.String
		msg.ToolID = toolID.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpsertAgent inserts or replaces an agent persona.
func (s *SQLiteStore) UpsertAgent(ctx context.Context, agent *Agent) error {
	isPrimary := 0
	if agent.Primary {
		isPrimary = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, slug, avatar, interests, cooldown_seconds, is_primary, model, system_prompt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			avatar = excluded.avatar,
			interests = excluded.interests,
			cooldown_seconds = excluded.cooldown_seconds,
			is_primary = excluded.is_primary,
			model = excluded.model,
			system_prompt = excluded.system_prompt`,
		agent.ID, agent.Name, agent.Slug, agent.Avatar, joinList(agent.Interests),
		agent.CooldownSeconds, isPrimary, agent.Model, agent.SystemPrompt,
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	agent := &Agent{}
	var interests string
	var isPrimary int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, avatar, interests, cooldown_seconds, is_primary, model, system_prompt
		FROM agents WHERE id = ?`, id,
	).Scan(&agent.ID, &agent.Name, &agent.Slug, &agent.Avatar, &interests,
		&agent.CooldownSeconds, &isPrimary, &agent.Model, &agent.SystemPrompt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	agent.Interests = splitList(interests)
	agent.Primary = isPrimary != 0
	return agent, nil
}

// ListAgents returns all configured agents.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, avatar, interests, cooldown_seconds, is_primary, model, system_prompt
		FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent := &Agent{}
		var interests string
		var isPrimary int
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.Slug, &agent.Avatar, &interests,
			&agent.CooldownSeconds, &isPrimary, &agent.Model, &agent.SystemPrompt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agent.Interests = splitList(interests)
		agent.Primary = isPrimary != 0
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// UpsertActor inserts or replaces an actor record.
func (s *SQLiteStore) UpsertActor(ctx context.Context, actor *Actor) error {
	createdAt := actor.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actors (id, kind, owner_id, name, avatar, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			owner_id = excluded.owner_id,
			name = excluded.name,
			avatar = excluded.avatar`,
		actor.ID, actor.Kind, actor.OwnerID, actor.Name, actor.Avatar, createdAt,
	)
	if err != nil {
		return fmt.Errorf("upserting actor: %w", err)
	}
	return nil
}

// GetActor retrieves an actor by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetActor(ctx context.Context, id string) (*Actor, error) {
	actor := &Actor{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, owner_id, name, avatar, created_at
		FROM actors WHERE id = ?`, id,
	).Scan(&actor.ID, &actor.Kind, &actor.OwnerID, &actor.Name, &actor.Avatar, &actor.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying actor: %w", err)
	}
	return actor, nil
}

// AddRoomMember records durable room membership. Idempotent.
func (s *SQLiteStore) AddRoomMember(ctx context.Context, member *RoomMember) error {
	joinedAt := member.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, actor_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id, actor_id) DO NOTHING`,
		member.RoomID, member.ActorID, joinedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting room member: %w", err)
	}
	return nil
}

// ListRoomMembers returns the durable membership records for a room.
func (s *SQLiteStore) ListRoomMembers(ctx context.Context, roomID string) ([]*RoomMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, actor_id, joined_at
		FROM room_members WHERE room_id = ? ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying room members: %w", err)
	}
	defer rows.Close()

	var members []*RoomMember
	for rows.Next() {
		m := &RoomMember{}
		if err := rows.Scan(&m.RoomID, &m.ActorID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning room member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveRoomMember deletes a durable membership record.
func (s *SQLiteStore) RemoveRoomMember(ctx context.Context, roomID, actorID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM room_members WHERE room_id = ? AND actor_id = ?`, roomID, actorID)
	if err != nil {
		return fmt.Errorf("deleting room member: %w", err)
	}
	return nil
}

// SaveReadMarker upserts the last-read marker for (room, actor).
func (s *SQLiteStore) SaveReadMarker(ctx context.Context, marker *ReadMarker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_markers (room_id, actor_id, message_id, read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, actor_id) DO UPDATE SET
			message_id = excluded.message_id,
			read_at = excluded.read_at`,
		marker.RoomID, marker.ActorID, marker.MessageID, marker.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("upserting read marker: %w", err)
	}
	return nil
}

// ListReadMarkers returns all read markers for a room.
func (s *SQLiteStore) ListReadMarkers(ctx context.Context, roomID string) ([]*ReadMarker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, actor_id, message_id, read_at
		FROM read_markers WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying read markers: %w", err)
	}
	defer rows.Close()

	var markers []*ReadMarker
	for rows.Next() {
		m := &ReadMarker{}
		if err := rows.Scan(&m.RoomID, &m.ActorID, &m.MessageID, &m.ReadAt); err != nil {
			return nil, fmt.Errorf("scanning read marker: %w", err)
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullable converts an empty string to a NULL-able value
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
