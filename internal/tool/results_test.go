// ABOUTME: Tests for the ResultSet TTL cache
// ABOUTME: Verifies TTL boundaries, room scoping, and sweep eviction

package tool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheAt(t *testing.T) (*ResultCache, *time.Time) {
	t.Helper()
	c := NewResultCache(DefaultResultTTL)
	t.Cleanup(c.Close)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestResultCache_TTLBoundaries(t *testing.T) {
	c, clock := newCacheAt(t)
	c.Put("room-1", []ResultItem{{URL: "https://example.com/a"}})

	// Resolvable at t0 + 9min.
	*clock = clock.Add(9 * time.Minute)
	item, err := c.Resolve("room-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", item.URL)

	// Not found at t0 + 11min.
	*clock = clock.Add(2 * time.Minute)
	_, err = c.Resolve("room-1", 1)
	assert.ErrorIs(t, err, ErrResultSetNotFound)
}

func TestResultCache_ItemsRenumberedFromOne(t *testing.T) {
	c, _ := newCacheAt(t)
	set := c.Put("room-1", []ResultItem{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	})

	assert.Equal(t, 1, set.Items[0].Index)
	assert.Equal(t, 2, set.Items[1].Index)
}

func TestResultCache_OpenRejectsForeignRoom(t *testing.T) {
	c, _ := newCacheAt(t)
	set := c.Put("room-1", []ResultItem{{URL: "https://example.com/a"}})

	_, err := c.Open(set.ID, "room-2", 1)
	assert.ErrorIs(t, err, ErrResultSetNotFound)

	item, err := c.Open(set.ID, "room-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", item.URL)
}

func TestResultCache_NewerSetReplacesRoomScope(t *testing.T) {
	c, _ := newCacheAt(t)
	c.Put("room-1", []ResultItem{{URL: "https://example.com/old"}})
	c.Put("room-1", []ResultItem{{URL: "https://example.com/new"}})

	item, err := c.Resolve("room-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/new", item.URL)
}

func TestResultCache_SweepEvictsExpired(t *testing.T) {
	c, clock := newCacheAt(t)
	set := c.Put("room-1", []ResultItem{{URL: "https://example.com/a"}})

	*clock = clock.Add(DefaultResultTTL + time.Minute)
	c.runSweep()

	c.mu.Lock()
	_, stillThere := c.sets[set.ID]
	_, roomMapped := c.byRoom["room-1"]
	c.mu.Unlock()
	assert.False(t, stillThere)
	assert.False(t, roomMapped)
}

func TestResultCache_EmptyRoomNotFound(t *testing.T) {
	c, _ := newCacheAt(t)
	_, err := c.Resolve("room-1", 1)
	assert.ErrorIs(t, err, ErrResultSetNotFound)
}
