// ABOUTME: Presence tracker for typing state, read receipts, and unread counts
// ABOUTME: Typing entries expire by TTL with lazy pruning; unread counts broadcast only on change

package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley-gateway/internal/store"
)

// Typing TTL bounds. Values outside are clamped, never rejected.
const (
	MinTypingTTL = 1 * time.Second
	MaxTypingTTL = 15 * time.Second
)

// Notifier is the slice of the message bus the tracker emits through.
type Notifier interface {
	BroadcastToRoom(roomID, method string, params any)
	EmitToUser(userID, method string, params any)
}

// Reader is the slice of the storage collaborator the tracker reads from.
type Reader interface {
	GetMessagesByRoom(ctx context.Context, roomID string, limit int) ([]*store.Message, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]*store.RoomMember, error)
	SaveReadMarker(ctx context.Context, marker *store.ReadMarker) error
	ListReadMarkers(ctx context.Context, roomID string) ([]*store.ReadMarker, error)
}

// lastRead is the per-(room,actor) read marker held in memory.
type lastRead struct {
	messageID string
	readAt    time.Time
}

// Tracker owns typing state, read receipts, and unread broadcast dedup for
// all rooms. State is in-memory only; durable read markers go to the store.
type Tracker struct {
	mu       sync.Mutex
	typing   map[string]map[string]time.Time          // roomID -> actorID -> expiry
	receipts map[string]map[string]map[string]struct{} // roomID -> messageID -> actor set
	marks    map[string]map[string]lastRead           // roomID -> actorID -> marker
	seeded   map[string]bool                          // rooms whose stored markers are loaded
	lastSent map[string]map[string]int                // roomID -> actorID -> last broadcast count

	reader   Reader
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Tracker. Pass nil logger for default.
func New(reader Reader, notifier Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		typing:   make(map[string]map[string]time.Time),
		receipts: make(map[string]map[string]map[string]struct{}),
		marks:    make(map[string]map[string]lastRead),
		seeded:   make(map[string]bool),
		lastSent: make(map[string]map[string]int),
		reader:   reader,
		notifier: notifier,
		logger:   logger.With("component", "presence"),
		now:      time.Now,
	}
}

// TypingStart sets or refreshes an actor's typing expiry and broadcasts the
// room's current typing set. The TTL is clamped to [1s, 15s].
func (t *Tracker) TypingStart(roomID, actorID string, ttl time.Duration) {
	if ttl < MinTypingTTL {
		ttl = MinTypingTTL
	}
	if ttl > MaxTypingTTL {
		ttl = MaxTypingTTL
	}

	t.mu.Lock()
	if _, ok := t.typing[roomID]; !ok {
		t.typing[roomID] = make(map[string]time.Time)
	}
	t.typing[roomID][actorID] = t.now().Add(ttl)
	actors := t.typingActorsLocked(roomID)
	t.mu.Unlock()

	t.broadcastTyping(roomID, actors)
}

// TypingStop removes an actor's typing entry immediately and broadcasts.
func (t *Tracker) TypingStop(roomID, actorID string) {
	t.mu.Lock()
	if actors, ok := t.typing[roomID]; ok {
		delete(actors, actorID)
		if len(actors) == 0 {
			delete(t.typing, roomID)
		}
	}
	actors := t.typingActorsLocked(roomID)
	t.mu.Unlock()

	t.broadcastTyping(roomID, actors)
}

// TypingActors returns the actors currently typing in a room, evicting
// expired entries first.
func (t *Tracker) TypingActors(roomID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typingActorsLocked(roomID)
}

// typingActorsLocked lazily evicts expired entries and returns the survivors.
// Must hold mu.
func (t *Tracker) typingActorsLocked(roomID string) []string {
	entries, ok := t.typing[roomID]
	if !ok {
		return []string{}
	}
	now := t.now()
	actors := make([]string, 0, len(entries))
	for actorID, expiry := range entries {
		if now.After(expiry) {
			delete(entries, actorID)
			continue
		}
		actors = append(actors, actorID)
	}
	if len(entries) == 0 {
		delete(t.typing, roomID)
	}
	return actors
}

func (t *Tracker) broadcastTyping(roomID string, actors []string) {
	t.notifier.BroadcastToRoom(roomID, "room.typing", map[string]any{
		"roomId": roomID,
		"actors": actors,
	})
}

// RecordRead upserts the (room, actor) last-read marker, appends the actor to
// the message's receipt set, broadcasts the receipts for that message, and
// re-broadcasts unread counts for actors whose count changed. Idempotent.
func (t *Tracker) RecordRead(ctx context.Context, roomID, actorID, messageID string, readAt time.Time) error {
	if err := t.reader.SaveReadMarker(ctx, &store.ReadMarker{
		RoomID:    roomID,
		ActorID:   actorID,
		MessageID: messageID,
		ReadAt:    readAt,
	}); err != nil {
		return fmt.Errorf("saving read marker: %w", err)
	}

	t.mu.Lock()
	if _, ok := t.marks[roomID]; !ok {
		t.marks[roomID] = make(map[string]lastRead)
	}
	prev := t.marks[roomID][actorID]
	if readAt.After(prev.readAt) || prev.messageID == "" {
		t.marks[roomID][actorID] = lastRead{messageID: messageID, readAt: readAt}
	}

	if _, ok := t.receipts[roomID]; !ok {
		t.receipts[roomID] = make(map[string]map[string]struct{})
	}
	if _, ok := t.receipts[roomID][messageID]; !ok {
		t.receipts[roomID][messageID] = make(map[string]struct{})
	}
	t.receipts[roomID][messageID][actorID] = struct{}{}
	readers := make([]string, 0, len(t.receipts[roomID][messageID]))
	for id := range t.receipts[roomID][messageID] {
		readers = append(readers, id)
	}
	t.mu.Unlock()

	t.notifier.BroadcastToRoom(roomID, "message.receipts", map[string]any{
		"roomId":    roomID,
		"messageId": messageID,
		"actors":    readers,
	})

	return t.BroadcastUnread(ctx, roomID)
}

// Receipts returns the actor IDs that have acknowledged a message.
func (t *Tracker) Receipts(roomID, messageID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.receipts[roomID][messageID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ComputeUnread recomputes per-actor unread counts for a room from the full
// message history. The actor universe is the union of durable room members,
// message authors, and anyone who has recorded a read.
func (t *Tracker) ComputeUnread(ctx context.Context, roomID string) (map[string]int, error) {
	if err := t.ensureMarks(ctx, roomID); err != nil {
		return nil, err
	}
	messages, err := t.reader.GetMessagesByRoom(ctx, roomID, 0)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	members, err := t.reader.ListRoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	actors := make(map[string]struct{})
	for _, m := range members {
		actors[m.ActorID] = struct{}{}
	}
	for _, msg := range messages {
		actors[msg.AuthorID] = struct{}{}
	}
	for actorID := range t.marks[roomID] {
		actors[actorID] = struct{}{}
	}

	counts := make(map[string]int, len(actors))
	for actorID := range actors {
		mark := t.marks[roomID][actorID]
		unread := 0
		for _, msg := range messages {
			if msg.AuthorID == actorID {
				continue
			}
			if _, ok := t.receipts[roomID][msg.ID][actorID]; ok {
				continue
			}
			// No exact receipt: fall back to the timestamp cutoff.
			if !mark.readAt.IsZero() && !msg.CreatedAt.After(mark.readAt) {
				continue
			}
			unread++
		}
		counts[actorID] = unread
	}
	return counts, nil
}

// ensureMarks loads a room's stored read markers into memory once, so unread
// counts survive a restart. In-memory marks that are already newer win.
func (t *Tracker) ensureMarks(ctx context.Context, roomID string) error {
	t.mu.Lock()
	already := t.seeded[roomID]
	t.mu.Unlock()
	if already {
		return nil
	}

	markers, err := t.reader.ListReadMarkers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("loading read markers: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seeded[roomID] {
		return nil
	}
	t.seeded[roomID] = true
	if _, ok := t.marks[roomID]; !ok {
		t.marks[roomID] = make(map[string]lastRead)
	}
	for _, m := range markers {
		prev := t.marks[roomID][m.ActorID]
		if m.ReadAt.After(prev.readAt) || prev.messageID == "" {
			t.marks[roomID][m.ActorID] = lastRead{messageID: m.MessageID, readAt: m.ReadAt}
		}
	}
	return nil
}

// BroadcastUnread recomputes unread counts for a room and notifies only the
// actors whose count changed since the previous broadcast.
func (t *Tracker) BroadcastUnread(ctx context.Context, roomID string) error {
	counts, err := t.ComputeUnread(ctx, roomID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if _, ok := t.lastSent[roomID]; !ok {
		t.lastSent[roomID] = make(map[string]int)
	}
	changed := make(map[string]int)
	for actorID, count := range counts {
		if prev, ok := t.lastSent[roomID][actorID]; !ok || prev != count {
			changed[actorID] = count
			t.lastSent[roomID][actorID] = count
		}
	}
	t.mu.Unlock()

	for actorID, count := range changed {
		t.notifier.EmitToUser(actorID, "room.unread", map[string]any{
			"roomId": roomID,
			"count":  count,
		})
	}
	return nil
}
