// ABOUTME: Tests for the turn-taking scheduler
// ABOUTME: Verifies the single-speaker invariant, FIFO drain, cooldowns, and the primary path

package turn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRecorder records the order of runs and can detect overlap.
type runRecorder struct {
	mu         sync.Mutex
	runs       []string // "roomID/agentID"
	inFlight   map[string]int
	maxFlight  map[string]int
	runLatency time.Duration
}

func newRunRecorder(latency time.Duration) *runRecorder {
	return &runRecorder{
		inFlight:   make(map[string]int),
		maxFlight:  make(map[string]int),
		runLatency: latency,
	}
}

func (r *runRecorder) run(ctx context.Context, roomID, agentID string) {
	r.mu.Lock()
	r.runs = append(r.runs, roomID+"/"+agentID)
	r.inFlight[roomID]++
	if r.inFlight[roomID] > r.maxFlight[roomID] {
		r.maxFlight[roomID] = r.inFlight[roomID]
	}
	r.mu.Unlock()

	time.Sleep(r.runLatency)

	r.mu.Lock()
	r.inFlight[roomID]--
	r.mu.Unlock()
}

func (r *runRecorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.runs))
	copy(out, r.runs)
	return out
}

func noCooldown(string) time.Duration { return 0 }

func TestScheduler_DrainsFIFO(t *testing.T) {
	rec := newRunRecorder(time.Millisecond)
	s := New(rec.run, noCooldown, nil)

	s.Submit(context.Background(), "room-1", []string{"a", "b", "c"})
	s.Wait("room-1")

	assert.Equal(t, []string{"room-1/a", "room-1/b", "room-1/c"}, rec.order())
	_, speaking := s.Speaking("room-1")
	assert.False(t, speaking)
	assert.Zero(t, s.QueueLength("room-1"))
}

func TestScheduler_SingleSpeakerPerRoom(t *testing.T) {
	rec := newRunRecorder(2 * time.Millisecond)
	s := New(rec.run, noCooldown, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit(context.Background(), "room-1", []string{"a", "b", "c"})
		}()
	}
	wg.Wait()
	s.Wait("room-1")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.LessOrEqual(t, rec.maxFlight["room-1"], 1,
		"no two agents may stream into the same room concurrently")
}

func TestScheduler_RoomsIndependent(t *testing.T) {
	var concurrent atomic.Int32
	var peak atomic.Int32
	run := func(ctx context.Context, roomID, agentID string) {
		n := concurrent.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		concurrent.Add(-1)
	}
	s := New(run, noCooldown, nil)

	s.Submit(context.Background(), "room-1", []string{"a"})
	s.Submit(context.Background(), "room-2", []string{"a"})
	s.Wait("room-1")
	s.Wait("room-2")

	assert.Greater(t, peak.Load(), int32(1), "different rooms should drain in parallel")
}

func TestScheduler_CooldownFiltersCandidates(t *testing.T) {
	rec := newRunRecorder(0)
	cooldown := func(agentID string) time.Duration { return time.Minute }
	s := New(rec.run, cooldown, nil)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Submit(context.Background(), "room-1", []string{"a", "b"})
	s.Wait("room-1")
	require.Equal(t, []string{"room-1/a", "room-1/b"}, rec.order())

	// Both are cooling down; a fresh agent gets through alone.
	s.Submit(context.Background(), "room-1", []string{"a", "c"})
	s.Wait("room-1")
	assert.Equal(t, []string{"room-1/a", "room-1/b", "room-1/c"}, rec.order())
}

func TestScheduler_ForceAdmitWhenAllCooling(t *testing.T) {
	rec := newRunRecorder(0)
	cooldowns := map[string]time.Duration{"a": 2 * time.Minute, "b": time.Minute}
	s := New(rec.run, func(id string) time.Duration { return cooldowns[id] }, nil)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Submit(context.Background(), "room-1", []string{"a", "b"})
	s.Wait("room-1")

	// Every candidate is cooling down; the one closest to eligibility (b)
	// is force-admitted rather than letting the room go silent.
	s.Submit(context.Background(), "room-1", []string{"a", "b"})
	s.Wait("room-1")

	order := rec.order()
	require.Len(t, order, 3)
	assert.Equal(t, "room-1/b", order[2])
}

func TestScheduler_CooldownExpires(t *testing.T) {
	rec := newRunRecorder(0)
	s := New(rec.run, func(string) time.Duration { return time.Minute }, nil)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Submit(context.Background(), "room-1", []string{"a"})
	s.Wait("room-1")

	current = current.Add(2 * time.Minute)
	s.Submit(context.Background(), "room-1", []string{"a"})
	s.Wait("room-1")

	assert.Len(t, rec.order(), 2)
	until := s.CooldownUntil("room-1", "a")
	assert.Equal(t, current.Add(time.Minute), until)
}

func TestScheduler_CooldownCapped(t *testing.T) {
	rec := newRunRecorder(0)
	s := New(rec.run, func(string) time.Duration { return 24 * time.Hour }, nil)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	s.Submit(context.Background(), "room-1", []string{"a"})
	s.Wait("room-1")

	assert.Equal(t, current.Add(MaxCooldown), s.CooldownUntil("room-1", "a"))
}

func TestScheduler_DuplicateCandidatesNotRequeued(t *testing.T) {
	block := make(chan struct{})
	rec := newRunRecorder(0)
	run := func(ctx context.Context, roomID, agentID string) {
		rec.run(ctx, roomID, agentID)
		<-block
	}
	s := New(run, noCooldown, nil)

	s.Submit(context.Background(), "room-1", []string{"a", "b"})
	// Wait for the drain to pick up "a".
	require.Eventually(t, func() bool {
		speaking, ok := s.Speaking("room-1")
		return ok && speaking == "a"
	}, time.Second, time.Millisecond)

	// Re-submitting the speaker and an already queued agent adds nothing.
	s.Submit(context.Background(), "room-1", []string{"a", "b"})
	assert.Equal(t, 1, s.QueueLength("room-1"))

	close(block)
	s.Wait("room-1")
	assert.Equal(t, []string{"room-1/a", "room-1/b"}, rec.order())
}

func TestScheduler_PrimaryTakesSameLock(t *testing.T) {
	started := make(chan string, 8)
	release := make(chan struct{})
	run := func(ctx context.Context, roomID, agentID string) {
		started <- agentID
		if agentID == "queued" {
			<-release
		}
	}
	s := New(run, noCooldown, nil)

	s.Submit(context.Background(), "room-1", []string{"queued"})
	require.Equal(t, "queued", <-started)

	primaryDone := make(chan struct{})
	go func() {
		s.RunPrimary(context.Background(), "room-1", "primary")
		close(primaryDone)
	}()

	// The primary must not start while "queued" is still streaming.
	select {
	case got := <-started:
		t.Fatalf("primary %q started while room busy", got)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.Equal(t, "primary", <-started)
	<-primaryDone

	_, speaking := s.Speaking("room-1")
	assert.False(t, speaking)
}

func TestScheduler_QueueDrainsAfterPrimary(t *testing.T) {
	rec := newRunRecorder(time.Millisecond)
	s := New(rec.run, noCooldown, nil)

	done := make(chan struct{})
	go func() {
		s.RunPrimary(context.Background(), "room-1", "primary")
		close(done)
	}()
	<-done

	s.Submit(context.Background(), "room-1", []string{"a"})
	s.Wait("room-1")

	assert.Equal(t, []string{"room-1/primary", "room-1/a"}, rec.order())
}

func TestScheduler_PanickingRunReleasesRoom(t *testing.T) {
	calls := 0
	run := func(ctx context.Context, roomID, agentID string) {
		calls++
		if agentID == "bad" {
			panic("tool blew up")
		}
	}
	s := New(run, noCooldown, nil)

	s.Submit(context.Background(), "room-1", []string{"bad", "good"})
	s.Wait("room-1")

	assert.Equal(t, 2, calls, "queue must keep draining after a panicking run")
	_, speaking := s.Speaking("room-1")
	assert.False(t, speaking)
}
