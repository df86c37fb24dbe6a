// ABOUTME: Participation router deciding which agents should respond to a message
// ABOUTME: Explicit @mentions win, then interest scoring, then a bounded full-set fallback

package route

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/2389/parley-gateway/internal/store"
)

// MaxCandidates bounds every candidate list the router returns.
const MaxCandidates = 5

// allDirective matches an explicit fan-out request like "@all" or "@everyone".
var allDirective = regexp.MustCompile(`(?i)(^|\s)@(all|everyone)\b`)

// tokenSplit breaks a message into scoring tokens.
var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// Directory is the slice of the storage collaborator the router reads from.
type Directory interface {
	GetRoom(ctx context.Context, id string) (*store.Room, error)
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
	GetActor(ctx context.Context, id string) (*store.Actor, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]*store.RoomMember, error)
}

// InviteSource exposes the legacy invited-agent set kept by the registry.
type InviteSource interface {
	InvitedAgents(roomID string) []string
}

// Router selects the candidate agents for an inbound message.
type Router struct {
	dir     Directory
	invites InviteSource
	logger  *slog.Logger
}

// New creates a Router. Pass nil logger for default.
func New(dir Directory, invites InviteSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		dir:     dir,
		invites: invites,
		logger:  logger.With("component", "router"),
	}
}

// Route returns the ordered candidate agent IDs (at most MaxCandidates) that
// should respond to a message. An empty list means nobody responds.
func (r *Router) Route(ctx context.Context, roomID, message string) ([]string, error) {
	room, err := r.dir.GetRoom(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Agents never participate in pure user-to-user DMs, mentions included.
	if room != nil && room.Kind == store.RoomKindDM {
		return []string{}, nil
	}

	eligible, err := r.eligibleAgents(ctx, room, roomID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return []string{}, nil
	}

	// Explicit mention always wins and bypasses scoring.
	if mentioned := mentionedAgents(message, eligible); len(mentioned) > 0 {
		return bound(mentioned), nil
	}

	// An explicit @all directive and the plain case both rank by interest
	// overlap; when scoring yields no signal the full eligible set responds
	// rather than silently dropping the message.
	scored := scoreAgents(message, eligible)
	if len(scored) == 0 || allDirective.MatchString(message) && len(scored) < len(eligible) {
		scoredSet := lo.SliceToMap(scored, func(id string) (string, struct{}) { return id, struct{}{} })
		for _, agent := range eligible {
			if _, ok := scoredSet[agent.ID]; !ok {
				scored = append(scored, agent.ID)
			}
		}
	}
	return bound(scored), nil
}

// eligibleAgents resolves the agent set for a room from, in priority order:
// the configured participant list, durable membership mapped through
// actor settings, and the legacy invited-agent set.
func (r *Router) eligibleAgents(ctx context.Context, room *store.Room, roomID string) ([]*store.Agent, error) {
	if room != nil && len(room.Participants) > 0 {
		return r.resolveAgents(ctx, room.Participants), nil
	}

	members, err := r.dir.ListRoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var memberAgents []string
	for _, member := range members {
		actor, err := r.dir.GetActor(ctx, member.ActorID)
		if err != nil || actor.Kind != store.ActorKindAgent {
			continue
		}
		agentID := actor.OwnerID
		if agentID == "" {
			agentID = actor.ID
		}
		memberAgents = append(memberAgents, agentID)
	}
	if len(memberAgents) > 0 {
		return r.resolveAgents(ctx, lo.Uniq(memberAgents)), nil
	}

	return r.resolveAgents(ctx, r.invites.InvitedAgents(roomID)), nil
}

// resolveAgents loads agent records, skipping unknown IDs.
func (r *Router) resolveAgents(ctx context.Context, ids []string) []*store.Agent {
	agents := make([]*store.Agent, 0, len(ids))
	for _, id := range ids {
		agent, err := r.dir.GetAgent(ctx, id)
		if err != nil {
			r.logger.Debug("skipping unknown agent", "agent_id", id)
			continue
		}
		agents = append(agents, agent)
	}
	return agents
}

// mentionedAgents parses @name / @slug mentions against the eligible set,
// case-insensitively, and returns matched agent IDs in mention order.
func mentionedAgents(message string, eligible []*store.Agent) []string {
	lower := strings.ToLower(message)

	type hit struct {
		agentID string
		pos     int
	}
	var hits []hit
	for _, agent := range eligible {
		pos := -1
		for _, label := range []string{agent.Name, agent.Slug} {
			if label == "" {
				continue
			}
			if i := mentionIndex(lower, strings.ToLower(label)); i >= 0 && (pos < 0 || i < pos) {
				pos = i
			}
		}
		if pos >= 0 {
			hits = append(hits, hit{agentID: agent.ID, pos: pos})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	return lo.Map(hits, func(h hit, _ int) string { return h.agentID })
}

// mentionIndex finds "@label" in message at word boundaries: the "@" must
// not follow a word character (no email local parts) and the label must not
// run into one (no "@buzz" inside "@buzzmail").
func mentionIndex(message, label string) int {
	needle := "@" + label
	for from := 0; ; {
		i := strings.Index(message[from:], needle)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(needle)
		if (i == 0 || !isWordByte(message[i-1])) && (end == len(message) || !isWordByte(message[end])) {
			return i
		}
		from = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// scoreAgents ranks eligible agents by interest overlap with the message.
// Only agents scoring above zero are returned, best first; ties keep the
// eligible-set order.
func scoreAgents(message string, eligible []*store.Agent) []string {
	lower := strings.ToLower(message)
	tokens := make(map[string]struct{})
	for _, tok := range tokenSplit.Split(lower, -1) {
		if tok != "" {
			tokens[tok] = struct{}{}
		}
	}

	type scored struct {
		agentID string
		score   int
	}
	var ranked []scored
	for _, agent := range eligible {
		score := 0
		for _, interest := range agent.Interests {
			needle := strings.ToLower(strings.TrimSpace(interest))
			if needle == "" {
				continue
			}
			if strings.ContainsAny(needle, " -") {
				if strings.Contains(lower, needle) {
					score++
				}
				continue
			}
			if _, ok := tokens[needle]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{agentID: agent.ID, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return lo.Map(ranked, func(s scored, _ int) string { return s.agentID })
}

// bound truncates a candidate list to MaxCandidates.
func bound(ids []string) []string {
	if len(ids) > MaxCandidates {
		return ids[:MaxCandidates]
	}
	return ids
}
