// ABOUTME: Tests for the participation router
// ABOUTME: Verifies DM suppression, mention parsing, scoring, @all, and fallbacks

package route

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/store"
)

// fakeInvites is a stub invite source.
type fakeInvites struct {
	agents map[string][]string
}

func (f *fakeInvites) InvitedAgents(roomID string) []string { return f.agents[roomID] }

func setup(t *testing.T) (*store.MockStore, *fakeInvites, *Router) {
	t.Helper()
	s := store.NewMockStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, &store.Agent{
		ID: "agent-a", Name: "Buzz Daly", Slug: "buzz", Interests: []string{"news", "sports"},
	}))
	require.NoError(t, s.UpsertAgent(ctx, &store.Agent{
		ID: "agent-b", Name: "V33", Slug: "v33", Interests: []string{"code", "golang"},
	}))

	invites := &fakeInvites{agents: make(map[string][]string)}
	return s, invites, New(s, invites, nil)
}

func groupRoom(t *testing.T, s *store.MockStore, id string, participants ...string) {
	t.Helper()
	require.NoError(t, s.CreateRoom(context.Background(), &store.Room{
		ID: id, Kind: store.RoomKindGroup, Participants: participants,
	}))
}

func TestRoute_DMSuppression(t *testing.T) {
	s, _, r := setup(t)
	require.NoError(t, s.CreateRoom(context.Background(), &store.Room{
		ID: "dm-1", Kind: store.RoomKindDM, Participants: []string{"agent-a"},
	}))

	for _, message := range []string{
		"hello there",
		"@Buzz Daly check this out",
		"@all please respond",
	} {
		candidates, err := r.Route(context.Background(), "dm-1", message)
		require.NoError(t, err)
		assert.Empty(t, candidates, "message %q", message)
	}
}

func TestRoute_MentionExactMatch(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "@Buzz Daly check this out")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a"}, candidates, "mention must return exactly the mentioned agent")
}

func TestRoute_MentionBySlugCaseInsensitive(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "hey @V33, opinions?")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b"}, candidates)
}

func TestRoute_MentionOrderPreserved(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "@v33 then @buzz please")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b", "agent-a"}, candidates)
}

func TestRoute_MentionBypassesScoring(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	// The message is full of agent-b's interests, but the mention wins.
	candidates, err := r.Route(context.Background(), "room-1", "@buzz what about this golang code?")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a"}, candidates)
}

func TestRoute_InterestScoring(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "any golang code reviews today?")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b"}, candidates)
}

func TestRoute_ScoringRanksByOverlap(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	// One interest hit for each; agent-a gets two.
	candidates, err := r.Route(context.Background(), "room-1", "sports news and some code")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "agent-a", candidates[0])
}

func TestRoute_NoSignalFallsBackToFullSet(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "completely unrelated chatter")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"agent-a", "agent-b"}, candidates)
}

func TestRoute_AllDirectiveFansOut(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "@all what do you think about golang?")
	require.NoError(t, err)
	// Scored agent first, then the rest of the eligible set.
	assert.Equal(t, []string{"agent-b", "agent-a"}, candidates)
}

func TestRoute_BoundedToFive(t *testing.T) {
	s, _, r := setup(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("agent-%02d", i)
		require.NoError(t, s.UpsertAgent(ctx, &store.Agent{ID: id, Name: id}))
		ids = append(ids, id)
	}
	groupRoom(t, s, "room-big", ids...)

	candidates, err := r.Route(ctx, "room-big", "hello everyone")
	require.NoError(t, err)
	assert.Len(t, candidates, MaxCandidates)
}

func TestRoute_MemberAgentsWhenNoConfiguredList(t *testing.T) {
	s, _, r := setup(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRoom(ctx, &store.Room{ID: "room-1", Kind: store.RoomKindGroup}))
	require.NoError(t, s.UpsertActor(ctx, &store.Actor{
		ID: "actor-agent-b", Kind: store.ActorKindAgent, OwnerID: "agent-b",
	}))
	require.NoError(t, s.AddRoomMember(ctx, &store.RoomMember{RoomID: "room-1", ActorID: "actor-agent-b"}))

	candidates, err := r.Route(ctx, "room-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b"}, candidates)
}

func TestRoute_InvitedAgentsLegacyFallback(t *testing.T) {
	s, invites, r := setup(t)
	require.NoError(t, s.CreateRoom(context.Background(), &store.Room{ID: "room-1", Kind: store.RoomKindGroup}))
	invites.agents["room-1"] = []string{"agent-a"}

	candidates, err := r.Route(context.Background(), "room-1", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a"}, candidates)
}

func TestRoute_AgentlessRoomStaysIdle(t *testing.T) {
	s, _, r := setup(t)
	require.NoError(t, s.CreateRoom(context.Background(), &store.Room{ID: "room-1", Kind: store.RoomKindGroup}))

	candidates, err := r.Route(context.Background(), "room-1", "anyone here?")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRoute_EmailAddressIsNotMention(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	candidates, err := r.Route(context.Background(), "room-1", "reach me at john@buzzmail.com about golang")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b"}, candidates, "email local/domain parts must not count as mentions")
}

func TestRoute_MentionNeedsWordBoundaries(t *testing.T) {
	s, _, r := setup(t)
	groupRoom(t, s, "room-1", "agent-a", "agent-b")

	// "@v33" embedded after a word character is an address, not a mention.
	candidates, err := r.Route(context.Background(), "room-1", "ping buzz@v33.dev about the news")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a"}, candidates)

	// Trailing punctuation after the label is still a mention.
	candidates, err = r.Route(context.Background(), "room-1", "thanks @buzz!")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a"}, candidates)

	// A longer word starting with the slug is not a mention.
	candidates, err = r.Route(context.Background(), "room-1", "the @buzzer went off, write some code")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-b"}, candidates)
}
