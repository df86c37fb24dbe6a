// ABOUTME: Tests for typing TTL, read receipts, and change-only unread broadcast
// ABOUTME: Uses an injected clock and a recording notifier

package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/store"
)

// recordingNotifier captures emitted notifications.
type recordingNotifier struct {
	mu    sync.Mutex
	room  []notifEvent
	users []notifEvent
}

type notifEvent struct {
	target string
	method string
	params map[string]any
}

func (n *recordingNotifier) BroadcastToRoom(roomID, method string, params any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.room = append(n.room, notifEvent{target: roomID, method: method, params: params.(map[string]any)})
}

func (n *recordingNotifier) EmitToUser(userID, method string, params any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, notifEvent{target: userID, method: method, params: params.(map[string]any)})
}

func (n *recordingNotifier) userEvents(method string) []notifEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifEvent
	for _, e := range n.users {
		if e.method == method {
			out = append(out, e)
		}
	}
	return out
}

func newTracker(t *testing.T) (*Tracker, *store.MockStore, *recordingNotifier, *time.Time) {
	t.Helper()
	s := store.NewMockStore()
	n := &recordingNotifier{}
	tr := New(s, n, nil)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return current }
	return tr, s, n, &current
}

func TestTyping_TTLClampAndExpiry(t *testing.T) {
	tr, _, _, clock := newTracker(t)

	// 50ms is below the floor and gets clamped to 1s.
	tr.TypingStart("room-1", "user-1", 50*time.Millisecond)
	assert.ElementsMatch(t, []string{"user-1"}, tr.TypingActors("room-1"))

	*clock = clock.Add(500 * time.Millisecond)
	assert.ElementsMatch(t, []string{"user-1"}, tr.TypingActors("room-1"))

	*clock = clock.Add(time.Second)
	assert.Empty(t, tr.TypingActors("room-1"), "entry must lazily expire")
}

func TestTyping_CeilingClamp(t *testing.T) {
	tr, _, _, clock := newTracker(t)

	tr.TypingStart("room-1", "user-1", time.Hour)

	*clock = clock.Add(14 * time.Second)
	assert.ElementsMatch(t, []string{"user-1"}, tr.TypingActors("room-1"))

	*clock = clock.Add(2 * time.Second)
	assert.Empty(t, tr.TypingActors("room-1"))
}

func TestTyping_StopRemovesImmediately(t *testing.T) {
	tr, _, n, _ := newTracker(t)

	tr.TypingStart("room-1", "user-1", 5*time.Second)
	tr.TypingStart("room-1", "user-2", 5*time.Second)
	tr.TypingStop("room-1", "user-1")

	assert.ElementsMatch(t, []string{"user-2"}, tr.TypingActors("room-1"))

	// Every start/stop broadcasts the current set.
	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.room, 3)
	for _, e := range n.room {
		assert.Equal(t, "room.typing", e.method)
	}
}

func seedMessages(t *testing.T, s *store.MockStore, base time.Time) {
	t.Helper()
	ctx := context.Background()
	for i, spec := range []struct{ id, author string }{
		{"m1", "user-1"},
		{"m2", "agent-a"},
		{"m3", "agent-a"},
	} {
		require.NoError(t, s.SaveMessage(ctx, &store.Message{
			ID:        spec.id,
			RoomID:    "room-1",
			AuthorID:  spec.author,
			Content:   spec.id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestRecordRead_Idempotent(t *testing.T) {
	tr, s, _, clock := newTracker(t)
	base := *clock
	seedMessages(t, s, base)
	ctx := context.Background()

	readAt := base.Add(30 * time.Second) // covers m1 only
	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-1", "m1", readAt))
	once, err := tr.ComputeUnread(ctx, "room-1")
	require.NoError(t, err)

	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-1", "m1", readAt))
	twice, err := tr.ComputeUnread(ctx, "room-1")
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestComputeUnread_AuthoredAndReadExcluded(t *testing.T) {
	tr, s, _, clock := newTracker(t)
	base := *clock
	seedMessages(t, s, base)
	ctx := context.Background()

	// user-1 has read m2 exactly; m3 is newer than the marker.
	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-1", "m2", base.Add(time.Minute)))

	counts, err := tr.ComputeUnread(ctx, "room-1")
	require.NoError(t, err)

	// m1 authored by user-1, m2 read; only m3 remains.
	assert.Equal(t, 1, counts["user-1"])
	// agent-a authored m2 and m3; m1 is unread for it.
	assert.Equal(t, 1, counts["agent-a"])
}

func TestComputeUnread_TimestampFallback(t *testing.T) {
	tr, s, _, clock := newTracker(t)
	base := *clock
	seedMessages(t, s, base)
	ctx := context.Background()

	// Marker at m3's timestamp covers everything even without per-message receipts.
	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-1", "m3", base.Add(2*time.Minute)))

	counts, err := tr.ComputeUnread(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 0, counts["user-1"])
}

func TestBroadcastUnread_ChangeOnly(t *testing.T) {
	tr, s, n, clock := newTracker(t)
	base := *clock
	seedMessages(t, s, base)
	ctx := context.Background()

	require.NoError(t, tr.BroadcastUnread(ctx, "room-1"))
	first := len(n.userEvents("room.unread"))
	assert.Greater(t, first, 0)

	// Nothing changed: no re-broadcast.
	require.NoError(t, tr.BroadcastUnread(ctx, "room-1"))
	assert.Equal(t, first, len(n.userEvents("room.unread")))

	// A read changes user-1's count: exactly one more notification.
	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-1", "m3", base.Add(2*time.Minute)))
	events := n.userEvents("room.unread")
	assert.Equal(t, first+1, len(events))
	last := events[len(events)-1]
	assert.Equal(t, "user-1", last.target)
	assert.Equal(t, 0, last.params["count"])
}

func TestRecordRead_BroadcastsReceipts(t *testing.T) {
	tr, s, n, clock := newTracker(t)
	seedMessages(t, s, *clock)
	ctx := context.Background()

	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-1", "m2", clock.Add(time.Minute)))
	require.NoError(t, tr.RecordRead(ctx, "room-1", "user-2", "m2", clock.Add(time.Minute)))

	assert.ElementsMatch(t, []string{"user-1", "user-2"}, tr.Receipts("room-1", "m2"))

	n.mu.Lock()
	defer n.mu.Unlock()
	var receiptEvents []notifEvent
	for _, e := range n.room {
		if e.method == "message.receipts" {
			receiptEvents = append(receiptEvents, e)
		}
	}
	require.Len(t, receiptEvents, 2)
	assert.Equal(t, "m2", receiptEvents[0].params["messageId"])
}

func TestComputeUnread_SeedsStoredMarkers(t *testing.T) {
	tr, s, _, clock := newTracker(t)
	base := *clock
	seedMessages(t, s, base)

	// A marker written by a previous process: user-1 read through m2.
	require.NoError(t, s.SaveReadMarker(context.Background(), &store.ReadMarker{
		RoomID:    "room-1",
		ActorID:   "user-1",
		MessageID: "m2",
		ReadAt:    base.Add(time.Minute),
	}))

	// Fresh tracker, same store: counts must reflect the stored marker.
	counts, err := tr.ComputeUnread(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts["user-1"], "only m3 is past the stored marker")
}

func TestComputeUnread_NewerMemoryMarkWinsOverStored(t *testing.T) {
	tr, s, _, clock := newTracker(t)
	base := *clock
	seedMessages(t, s, base)

	require.NoError(t, s.SaveReadMarker(context.Background(), &store.ReadMarker{
		RoomID:    "room-1",
		ActorID:   "user-1",
		MessageID: "m1",
		ReadAt:    base,
	}))

	// A live read past the stored marker must not be rolled back by seeding.
	require.NoError(t, tr.RecordRead(context.Background(), "room-1", "user-1", "m3", base.Add(2*time.Minute)))

	counts, err := tr.ComputeUnread(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, 0, counts["user-1"])
}
