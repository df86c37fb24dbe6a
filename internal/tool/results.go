// ABOUTME: TTL-bounded, room-scoped cache of indexable discovery results
// ABOUTME: Lets a later "open result #N" message resolve an index deterministically

package tool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultResultTTL bounds how long a ResultSet stays resolvable.
const DefaultResultTTL = 10 * time.Minute

// ErrResultSetNotFound indicates no live ResultSet matches the lookup.
var ErrResultSetNotFound = errors.New("result set not found")

// ErrResultIndex indicates the requested index is outside the set.
var ErrResultIndex = errors.New("result index out of range")

// ResultItem is one addressable entry of a discovery result.
type ResultItem struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ResultSet is a room-scoped, TTL-bounded list of addressable items.
type ResultSet struct {
	ID        string       `json:"id"`
	RoomID    string       `json:"roomId"`
	Items     []ResultItem `json:"items"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ResultCache stores the most recent ResultSet per room plus lookup by set
// ID. Expired sets are dropped lazily on read and by a periodic sweep.
type ResultCache struct {
	mu     sync.Mutex
	sets   map[string]*ResultSet // by set ID
	byRoom map[string]string     // roomID -> latest set ID
	ttl    time.Duration
	now    func() time.Time
	done   chan struct{}
	closed bool
}

// NewResultCache creates a cache with the given TTL (DefaultResultTTL if
// zero) and starts the background sweep.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	c := &ResultCache{
		sets:   make(map[string]*ResultSet),
		byRoom: make(map[string]string),
		ttl:    ttl,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Put stores a new ResultSet for a room, renumbering items from 1, and makes
// it the room's current set.
func (c *ResultCache) Put(roomID string, items []ResultItem) *ResultSet {
	set := &ResultSet{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Items:     make([]ResultItem, len(items)),
		CreatedAt: c.now(),
	}
	for i, item := range items {
		item.Index = i + 1
		set.Items[i] = item
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[set.ID] = set
	c.byRoom[roomID] = set.ID
	return set
}

// Resolve maps an index against the room's current ResultSet.
// Returns ErrResultSetNotFound if the room has no live set, ErrResultIndex
// if the index is outside it.
func (c *ResultCache) Resolve(roomID string, index int) (*ResultItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	setID, ok := c.byRoom[roomID]
	if !ok {
		return nil, ErrResultSetNotFound
	}
	set, ok := c.liveLocked(setID)
	if !ok {
		delete(c.byRoom, roomID)
		return nil, ErrResultSetNotFound
	}
	if index < 1 || index > len(set.Items) {
		return nil, fmt.Errorf("%w: %d of %d", ErrResultIndex, index, len(set.Items))
	}
	item := set.Items[index-1]
	return &item, nil
}

// Open resolves an index against a specific set ID, verifying room scope.
// A set belonging to a different room is treated as not found, never guessed.
func (c *ResultCache) Open(setID, roomID string, index int) (*ResultItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.liveLocked(setID)
	if !ok || set.RoomID != roomID {
		return nil, ErrResultSetNotFound
	}
	if index < 1 || index > len(set.Items) {
		return nil, fmt.Errorf("%w: %d of %d", ErrResultIndex, index, len(set.Items))
	}
	item := set.Items[index-1]
	return &item, nil
}

// liveLocked returns the set if present and unexpired, evicting it otherwise.
// Must hold mu.
func (c *ResultCache) liveLocked(setID string) (*ResultSet, bool) {
	set, ok := c.sets[setID]
	if !ok {
		return nil, false
	}
	if c.now().Sub(set.CreatedAt) > c.ttl {
		delete(c.sets, setID)
		return nil, false
	}
	return set, true
}

// sweep periodically drops expired sets.
func (c *ResultCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

func (c *ResultCache) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, set := range c.sets {
		if now.Sub(set.CreatedAt) > c.ttl {
			delete(c.sets, id)
			if c.byRoom[set.RoomID] == id {
				delete(c.byRoom, set.RoomID)
			}
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *ResultCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
