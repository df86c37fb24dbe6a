// ABOUTME: Turn-taking scheduler enforcing at most one speaking agent per room
// ABOUTME: Queues eligible agents FIFO, applies capped cooldowns, drains with a work loop

package turn

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MaxCooldown caps any cooldown an agent can be given.
const MaxCooldown = 10 * time.Minute

// RunFunc streams one agent's response into a room. It is invoked while the
// room's speaking slot is held; errors are handled inside the loop, never
// surfaced here.
type RunFunc func(ctx context.Context, roomID, agentID string)

// CooldownFunc resolves the cooldown duration for an agent after it speaks.
type CooldownFunc func(agentID string) time.Duration

// Scheduler owns per-room speaking state, responder queues, and cooldown
// tables. All state is in-memory and resets on restart.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	active    map[string]bool                 // room owned by a drain loop or primary run
	speaking  map[string]string               // roomID -> agentID currently streaming
	queues    map[string][]string             // roomID -> waiting agent IDs, FIFO
	cooldowns map[string]map[string]time.Time // roomID -> agentID -> eligible-again time

	run      RunFunc
	cooldown CooldownFunc
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Scheduler. run streams one response; cooldown resolves the
// per-agent cooldown applied afterwards. Pass nil logger for default.
func New(run RunFunc, cooldown CooldownFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		active:    make(map[string]bool),
		speaking:  make(map[string]string),
		queues:    make(map[string][]string),
		cooldowns: make(map[string]map[string]time.Time),
		run:       run,
		cooldown:  cooldown,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit admits candidates for a room. Candidates still cooling down are
// filtered out, but if every candidate is cooling the one closest to
// eligibility is force-admitted so a busy room never goes silent. Admitted
// agents are enqueued FIFO; if the room is idle a drain starts immediately.
//
// The drain runs detached from the submitting request: a disconnecting
// caller does not abandon an in-flight response.
func (s *Scheduler) Submit(ctx context.Context, roomID string, candidates []string) {
	if len(candidates) == 0 {
		return
	}

	s.mu.Lock()
	admitted := s.filterCooldownsLocked(roomID, candidates)
	enqueued := 0
	for _, agentID := range admitted {
		if s.speaking[roomID] == agentID || lo.Contains(s.queues[roomID], agentID) {
			continue
		}
		s.queues[roomID] = append(s.queues[roomID], agentID)
		enqueued++
	}
	start := enqueued > 0 && !s.active[roomID]
	if start {
		// The slot is claimed synchronously, before any suspension point,
		// so a second drain cannot start for this room in between.
		s.active[roomID] = true
	}
	s.mu.Unlock()

	if start {
		go s.drain(context.WithoutCancel(ctx), roomID)
	}
}

// filterCooldownsLocked drops candidates whose cooldown has not elapsed.
// If that leaves nothing, the single candidate with the earliest cooldown
// expiry is force-admitted. Must hold mu.
func (s *Scheduler) filterCooldownsLocked(roomID string, candidates []string) []string {
	now := s.now()
	eligible := make([]string, 0, len(candidates))
	for _, agentID := range candidates {
		if !s.cooldowns[roomID][agentID].After(now) {
			eligible = append(eligible, agentID)
		}
	}
	if len(eligible) > 0 {
		return eligible
	}

	earliest := candidates[0]
	for _, agentID := range candidates[1:] {
		if s.cooldowns[roomID][agentID].Before(s.cooldowns[roomID][earliest]) {
			earliest = agentID
		}
	}
	s.logger.Debug("force-admitting cooled-down agent", "room_id", roomID, "agent_id", earliest)
	return []string{earliest}
}

// drain pops the queue head, streams its response, applies cooldown, and
// repeats until the queue empties. An explicit loop, not recursion, so long
// queues cannot grow the stack.
func (s *Scheduler) drain(ctx context.Context, roomID string) {
	for {
		s.mu.Lock()
		queue := s.queues[roomID]
		if len(queue) == 0 {
			delete(s.queues, roomID)
			s.active[roomID] = false
			s.cond.Broadcast()
			s.mu.Unlock()
			return
		}
		agentID := queue[0]
		if len(queue) == 1 {
			delete(s.queues, roomID)
		} else {
			s.queues[roomID] = queue[1:]
		}
		s.speaking[roomID] = agentID
		s.mu.Unlock()

		s.runOne(ctx, roomID, agentID)

		s.mu.Lock()
		delete(s.speaking, roomID)
		s.setCooldownLocked(roomID, agentID)
		s.mu.Unlock()
	}
}

// runOne invokes the response loop, guaranteeing the speaking slot survives
// a panicking run only long enough to be released by the caller.
func (s *Scheduler) runOne(ctx context.Context, roomID, agentID string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("response loop panicked", "room_id", roomID, "agent_id", agentID, "panic", rec)
		}
	}()
	s.run(ctx, roomID, agentID)
}

// RunPrimary streams the room's designated primary agent outside the queue
// mechanism. It still takes the same speaking slot, so a primary response
// and a queued response can never interleave; queued agents waiting when the
// primary finishes drain immediately after.
func (s *Scheduler) RunPrimary(ctx context.Context, roomID, agentID string) {
	s.mu.Lock()
	for s.active[roomID] {
		s.cond.Wait()
	}
	s.active[roomID] = true
	s.speaking[roomID] = agentID
	s.mu.Unlock()

	s.runOne(ctx, roomID, agentID)

	s.mu.Lock()
	delete(s.speaking, roomID)
	restart := len(s.queues[roomID]) > 0
	if !restart {
		s.active[roomID] = false
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	if restart {
		go s.drain(context.WithoutCancel(ctx), roomID)
	}
}

// setCooldownLocked records the agent's next-eligible time, capped at
// MaxCooldown. Entries are checked on read, never swept. Must hold mu.
func (s *Scheduler) setCooldownLocked(roomID, agentID string) {
	d := s.cooldown(agentID)
	if d <= 0 {
		return
	}
	if d > MaxCooldown {
		d = MaxCooldown
	}
	if _, ok := s.cooldowns[roomID]; !ok {
		s.cooldowns[roomID] = make(map[string]time.Time)
	}
	s.cooldowns[roomID][agentID] = s.now().Add(d)
}

// Speaking returns the agent currently streaming into a room, if any.
func (s *Scheduler) Speaking(roomID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agentID, ok := s.speaking[roomID]
	return agentID, ok
}

// QueueLength returns the number of agents waiting to speak in a room.
func (s *Scheduler) QueueLength(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[roomID])
}

// CooldownUntil returns when an agent becomes auto-selectable again.
func (s *Scheduler) CooldownUntil(roomID, agentID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldowns[roomID][agentID]
}

// Wait blocks until the room is idle. Test helper and shutdown aid.
func (s *Scheduler) Wait(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.active[roomID] {
		s.cond.Wait()
	}
}
