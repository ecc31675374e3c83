// Package coordinator owns per-session status state and stall-detection
// timers. It is the single writer of session status: every operation
// updates state, manages the session's timer, and emits one canonical
// event on the bus per transition.
package coordinator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/InstruktAI/TeleClaude-sub007/internal/bus"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

// Config holds the stall-detection thresholds. Both are operator-tunable;
// FirstThreshold (T1) must be shorter than StalledThreshold (T2).
type Config struct {
	FirstThreshold   time.Duration // no output for T1 → awaiting_output
	StalledThreshold time.Duration // no output for T2 total → stalled
}

// sessionState is the mutable record for one live session. Owned
// exclusively by the Coordinator; at most one live stall timer exists
// per session and it is always cancelled before the state is destroyed
// or a new timer is armed.
type sessionState struct {
	status       status.Status
	origin       string
	acceptedAt   time.Time
	lastActivity time.Time
	timer        *stallTimer
}

// Coordinator is the canonical session-status state machine.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	bus *bus.Bus
	cfg Config
	now func() time.Time
}

// New creates a Coordinator publishing on the given bus.
func New(b *bus.Bus, cfg Config) *Coordinator {
	if cfg.FirstThreshold <= 0 {
		cfg.FirstThreshold = 5 * time.Minute
	}
	if cfg.StalledThreshold <= cfg.FirstThreshold {
		cfg.StalledThreshold = 3 * cfg.FirstThreshold
	}
	return &Coordinator{
		sessions: make(map[string]*sessionState),
		bus:      b,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Accept registers a new session originating from the named adapter and
// emits the accepted event. Accepting an already-known session is a
// no-op with a logged warning.
func (c *Coordinator) Accept(sessionID, originAdapter string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sessions[sessionID]; exists {
		slog.Warn("accept on already-known session", "session_id", sessionID)
		return
	}

	s := &sessionState{
		origin:     originAdapter,
		acceptedAt: c.now(),
	}
	c.sessions[sessionID] = s
	c.transitionLocked(sessionID, s, status.StatusAccepted, status.ReasonWorkAccepted)
}

// ObserveOutput records agent activity. From accepted, awaiting_output
// or stalled it transitions to active_output; while already in
// active_output it refreshes the activity instant and re-arms the stall
// timer without emitting a duplicate event.
func (c *Coordinator) ObserveOutput(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.liveLocked(sessionID, "observe_output")
	if !ok {
		return
	}
	s.lastActivity = c.now()

	if s.status == status.StatusActiveOutput {
		s.timer.Cancel()
		c.armLocked(sessionID, s, c.cfg.FirstThreshold)
		return
	}
	c.transitionLocked(sessionID, s, status.StatusActiveOutput, status.ReasonOutputObserved)
}

// Stop completes a session normally.
func (c *Coordinator) Stop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.liveLocked(sessionID, "stop")
	if !ok {
		return
	}
	c.transitionLocked(sessionID, s, status.StatusCompleted, status.ReasonNormalStop)
}

// Fail moves a session to the error state with the given reason code.
// The stall timer is cancelled as part of the transition: a stall firing
// after an error would be a correctness bug, not a benign race.
func (c *Coordinator) Fail(sessionID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.liveLocked(sessionID, "fail")
	if !ok {
		return
	}
	c.transitionLocked(sessionID, s, status.StatusError, reason)
}

// Close tears a session down. Allowed from any state including completed
// and error; the timer is cancelled before any other teardown and the
// state is removed from the registry after the closed event is emitted.
func (c *Coordinator) Close(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		slog.Warn("close on unknown session", "session_id", sessionID)
		return
	}
	c.transitionLocked(sessionID, s, status.StatusClosed, status.ReasonSessionClosed)
	delete(c.sessions, sessionID)
}

// Origin returns the origin adapter recorded for a session.
func (c *Coordinator) Origin(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.origin, true
}

// Snapshot is a read-only copy of one session's state.
type Snapshot struct {
	SessionID      string
	Status         status.Status
	OriginAdapter  string
	AcceptedAt     time.Time
	LastActivityAt time.Time
}

// List returns snapshots of every tracked session.
func (c *Coordinator) List() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, 0, len(c.sessions))
	for id, s := range c.sessions {
		out = append(out, Snapshot{
			SessionID:      id,
			Status:         s.status,
			OriginAdapter:  s.origin,
			AcceptedAt:     s.acceptedAt,
			LastActivityAt: s.lastActivity,
		})
	}
	return out
}

// Get returns the snapshot for one session.
func (c *Coordinator) Get(sessionID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		SessionID:      sessionID,
		Status:         s.status,
		OriginAdapter:  s.origin,
		AcceptedAt:     s.acceptedAt,
		LastActivityAt: s.lastActivity,
	}, true
}

// liveLocked fetches a session that is allowed to transition. Unknown
// sessions and sessions already in completed/error/closed are a no-op
// with a warning, never an error into the caller's critical path.
func (c *Coordinator) liveLocked(sessionID, op string) (*sessionState, bool) {
	s, ok := c.sessions[sessionID]
	if !ok {
		slog.Warn("operation on unknown session", "op", op, "session_id", sessionID)
		return nil, false
	}
	if s.status.Terminal() {
		slog.Warn("operation on terminal session",
			"op", op,
			"session_id", sessionID,
			"status", string(s.status))
		return nil, false
	}
	return s, true
}

// transitionLocked applies one state transition: cancel the timer
// unconditionally, set the new status, re-arm per the timer schedule,
// and emit the canonical event. Emission goes through the status gate;
// a rejected candidate is logged and dropped, never partially emitted.
func (c *Coordinator) transitionLocked(sessionID string, s *sessionState, to status.Status, reason string) {
	s.timer.Cancel()
	s.timer = nil
	from := s.status
	s.status = to

	switch to {
	case status.StatusAccepted, status.StatusActiveOutput:
		c.armLocked(sessionID, s, c.cfg.FirstThreshold)
	case status.StatusAwaitingOutput:
		c.armLocked(sessionID, s, c.cfg.StalledThreshold-c.cfg.FirstThreshold)
	}
	// stalled and the terminal states have no timer-driven exit.

	ev, err := status.Build(status.Candidate{
		SessionID:      sessionID,
		Status:         to,
		Reason:         reason,
		Timestamp:      c.now(),
		LastActivityAt: s.lastActivity,
		DeliveryScope:  status.ScopeBroadcast,
	})
	if err != nil {
		slog.Error("invalid status emission dropped",
			"session_id", sessionID,
			"from", string(from),
			"to", string(to),
			"error", err)
		return
	}

	slog.Info("session status changed",
		"session_id", sessionID,
		"from", string(from),
		"to", string(to),
		"reason", reason)
	c.bus.Publish(ev)
}

// armLocked replaces the session's stall timer with a fresh one.
func (c *Coordinator) armLocked(sessionID string, s *sessionState, d time.Duration) {
	s.timer = newStallTimer(d, func(st *stallTimer) {
		c.onTimerFire(sessionID, st)
	})
}

// onTimerFire handles a stall threshold elapsing with no output. A fire
// from a superseded timer (cancelled concurrently with its own firing)
// is ignored.
func (c *Coordinator) onTimerFire(sessionID string, st *stallTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok || s.timer != st {
		return
	}

	switch s.status {
	case status.StatusAccepted, status.StatusActiveOutput:
		c.transitionLocked(sessionID, s, status.StatusAwaitingOutput, status.ReasonStallTimeout)
	case status.StatusAwaitingOutput:
		c.transitionLocked(sessionID, s, status.StatusStalled, status.ReasonStallTimeout)
	default:
		// A live timer should not exist in any other state.
		slog.Warn("stall timer fired in unexpected state",
			"session_id", sessionID,
			"status", string(s.status))
	}
}
