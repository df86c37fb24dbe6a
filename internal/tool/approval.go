// ABOUTME: Approval gate for side-effecting tool functions
// ABOUTME: Holds pending "should I do X?" suggestions and matches affirmative follow-ups

package tool

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSuggestionTTL bounds how long a pending suggestion stays matchable.
const DefaultSuggestionTTL = 10 * time.Minute

// affirmatives are follow-up openers that approve the newest pending
// suggestion in a room.
var affirmatives = []string{
	"yes", "yep", "yeah", "sure", "ok", "okay",
	"go ahead", "do it", "approved", "please do", "sounds good",
}

// negatives clear the newest pending suggestion without executing it.
var negatives = []string{
	"no", "nope", "don't", "dont", "cancel", "stop", "never mind", "nevermind",
}

// Suggestion is a gated tool call waiting for user confirmation.
type Suggestion struct {
	ID        string
	RoomID    string
	Call      Call
	Summary   string
	CreatedAt time.Time
}

// ApprovalGate tracks pending suggestions per room. Suggestions expire with
// a TTL and are pruned lazily on match.
type ApprovalGate struct {
	mu      sync.Mutex
	pending map[string][]*Suggestion // roomID -> newest last
	ttl     time.Duration
	now     func() time.Time
}

// NewApprovalGate creates a gate with the given TTL (DefaultSuggestionTTL if zero).
func NewApprovalGate(ttl time.Duration) *ApprovalGate {
	if ttl <= 0 {
		ttl = DefaultSuggestionTTL
	}
	return &ApprovalGate{
		pending: make(map[string][]*Suggestion),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add records a pending suggestion for a room and returns it.
func (g *ApprovalGate) Add(call Call, summary string) *Suggestion {
	s := &Suggestion{
		ID:        uuid.New().String(),
		RoomID:    call.RoomID,
		Call:      call,
		Summary:   summary,
		CreatedAt: g.now(),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[call.RoomID] = append(g.pending[call.RoomID], s)
	return s
}

// MatchAffirmative checks whether a message approves the newest live
// suggestion for the room. On match the suggestion is removed and returned.
func (g *ApprovalGate) MatchAffirmative(roomID, message string) (*Suggestion, bool) {
	if !matchesAny(message, affirmatives) {
		return nil, false
	}
	return g.popNewest(roomID)
}

// MatchNegative checks whether a message declines the newest live suggestion.
// On match the suggestion is discarded and returned.
func (g *ApprovalGate) MatchNegative(roomID, message string) (*Suggestion, bool) {
	if !matchesAny(message, negatives) {
		return nil, false
	}
	return g.popNewest(roomID)
}

// Pending returns the live suggestions for a room, oldest first.
func (g *ApprovalGate) Pending(roomID string) []*Suggestion {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(roomID)
	out := make([]*Suggestion, len(g.pending[roomID]))
	copy(out, g.pending[roomID])
	return out
}

// popNewest removes and returns the most recent live suggestion for a room.
func (g *ApprovalGate) popNewest(roomID string) (*Suggestion, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pruneLocked(roomID)

	list := g.pending[roomID]
	if len(list) == 0 {
		return nil, false
	}
	s := list[len(list)-1]
	list = list[:len(list)-1]
	if len(list) == 0 {
		delete(g.pending, roomID)
	} else {
		g.pending[roomID] = list
	}
	return s, true
}

// pruneLocked drops expired suggestions for a room. Must hold mu.
func (g *ApprovalGate) pruneLocked(roomID string) {
	now := g.now()
	list := g.pending[roomID]
	live := list[:0]
	for _, s := range list {
		if now.Sub(s.CreatedAt) <= g.ttl {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		delete(g.pending, roomID)
	} else {
		g.pending[roomID] = live
	}
}

// matchesAny reports whether the normalized message starts with any phrase.
func matchesAny(message string, phrases []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	normalized = strings.TrimRight(normalized, ".!,")
	for _, phrase := range phrases {
		if normalized == phrase || strings.HasPrefix(normalized, phrase+" ") || strings.HasPrefix(normalized, phrase+",") {
			return true
		}
	}
	return false
}
