package coordinator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InstruktAI/TeleClaude-sub007/internal/bus"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

func newTestCoordinator(t1, t2 time.Duration) (*Coordinator, <-chan status.Event, func()) {
	b := bus.New()
	ch, cancel := b.Subscribe()
	c := New(b, Config{FirstThreshold: t1, StalledThreshold: t2})
	return c, ch, cancel
}

func nextEvent(t *testing.T, ch <-chan status.Event, within time.Duration) status.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatal("no status event within deadline")
		return status.Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan status.Event, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %s -> %s", ev.SessionID, ev.Status)
	case <-time.After(within):
	}
}

func TestCoordinator_StallSequenceWithoutOutput(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(50*time.Millisecond, 150*time.Millisecond)
	defer cancel()

	c.Accept("ses-1", "telegram")

	ev := nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusAccepted, ev.Status)
	assert.Equal(t, status.ReasonWorkAccepted, ev.Reason)

	ev = nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusAwaitingOutput, ev.Status)
	assert.Equal(t, status.ReasonStallTimeout, ev.Reason)

	ev = nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusStalled, ev.Status)
	assert.Equal(t, status.ReasonStallTimeout, ev.Reason)

	// stalled has no timer-driven exit; nothing further arrives.
	assertNoEvent(t, ch, 200*time.Millisecond)
}

func TestCoordinator_OutputBeforeFirstThreshold(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(100*time.Millisecond, 300*time.Millisecond)
	defer cancel()

	c.Accept("ses-1", "web")
	ev := nextEvent(t, ch, time.Second)
	require.Equal(t, status.StatusAccepted, ev.Status)

	time.Sleep(20 * time.Millisecond)
	c.ObserveOutput("ses-1")

	ev = nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusActiveOutput, ev.Status)
	assert.Equal(t, status.ReasonOutputObserved, ev.Reason)
	assert.False(t, ev.LastActivityAt.IsZero())

	c.Stop("ses-1")
	ev = nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusCompleted, ev.Status)

	// No awaiting_output or stalled was ever emitted.
	assertNoEvent(t, ch, 350*time.Millisecond)
}

func TestCoordinator_OutputRecoversFromStalled(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(30*time.Millisecond, 90*time.Millisecond)
	defer cancel()

	c.Accept("ses-1", "discord")
	require.Equal(t, status.StatusAccepted, nextEvent(t, ch, time.Second).Status)
	require.Equal(t, status.StatusAwaitingOutput, nextEvent(t, ch, time.Second).Status)
	require.Equal(t, status.StatusStalled, nextEvent(t, ch, time.Second).Status)

	c.ObserveOutput("ses-1")
	ev := nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusActiveOutput, ev.Status)
}

func TestCoordinator_ActiveOutputRearmsWithoutDuplicateEvents(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(80*time.Millisecond, 240*time.Millisecond)
	defer cancel()

	c.Accept("ses-1", "web")
	require.Equal(t, status.StatusAccepted, nextEvent(t, ch, time.Second).Status)
	c.ObserveOutput("ses-1")
	require.Equal(t, status.StatusActiveOutput, nextEvent(t, ch, time.Second).Status)

	// Keep producing output faster than T1; the timer keeps re-arming and
	// no event is emitted for repeated activity.
	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		c.ObserveOutput("ses-1")
	}
	assertNoEvent(t, ch, 50*time.Millisecond)

	// Once output stops, T1 elapses and the session re-enters awaiting_output.
	ev := nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusAwaitingOutput, ev.Status)
}

func TestCoordinator_CloseCancelsLiveTimer(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(30*time.Millisecond, 90*time.Millisecond)
	defer cancel()

	c.Accept("ses-1", "telegram")
	require.Equal(t, status.StatusAccepted, nextEvent(t, ch, time.Second).Status)
	require.Equal(t, status.StatusAwaitingOutput, nextEvent(t, ch, time.Second).Status)

	c.Close("ses-1")
	ev := nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusClosed, ev.Status)

	// The T2 timer was cancelled: no stalled event after close.
	assertNoEvent(t, ch, 150*time.Millisecond)

	_, ok := c.Get("ses-1")
	assert.False(t, ok, "closed session state is destroyed")
}

func TestCoordinator_FailCancelsTimer(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(30*time.Millisecond, 90*time.Millisecond)
	defer cancel()

	c.Accept("ses-1", "web")
	require.Equal(t, status.StatusAccepted, nextEvent(t, ch, time.Second).Status)

	c.Fail("ses-1", "agent_error")
	ev := nextEvent(t, ch, time.Second)
	assert.Equal(t, status.StatusError, ev.Status)
	assert.Equal(t, "agent_error", ev.Reason)

	// Neither awaiting_output nor stalled fires after the error.
	assertNoEvent(t, ch, 150*time.Millisecond)
}

func TestCoordinator_OperationsOnUnknownSessionAreNoOps(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(time.Minute, 2*time.Minute)
	defer cancel()

	assert.NotPanics(t, func() {
		c.ObserveOutput("ghost")
		c.Stop("ghost")
		c.Fail("ghost", "x")
		c.Close("ghost")
	})
	assertNoEvent(t, ch, 50*time.Millisecond)
}

func TestCoordinator_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(time.Minute, 2*time.Minute)
	defer cancel()

	c.Accept("ses-1", "web")
	require.Equal(t, status.StatusAccepted, nextEvent(t, ch, time.Second).Status)
	c.Stop("ses-1")
	require.Equal(t, status.StatusCompleted, nextEvent(t, ch, time.Second).Status)

	// completed never transitions except to closed.
	c.ObserveOutput("ses-1")
	c.Fail("ses-1", "late_failure")
	c.Stop("ses-1")
	assertNoEvent(t, ch, 50*time.Millisecond)

	c.Close("ses-1")
	assert.Equal(t, status.StatusClosed, nextEvent(t, ch, time.Second).Status)
}

func TestCoordinator_DuplicateAcceptIsNoOp(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(time.Minute, 2*time.Minute)
	defer cancel()

	c.Accept("ses-1", "web")
	require.Equal(t, status.StatusAccepted, nextEvent(t, ch, time.Second).Status)

	c.Accept("ses-1", "telegram")
	assertNoEvent(t, ch, 50*time.Millisecond)

	origin, ok := c.Origin("ses-1")
	require.True(t, ok)
	assert.Equal(t, "web", origin, "origin binding is immutable")
}

// TestCoordinator_RandomOperationSequences drives random operation
// sequences and checks the core invariant on the emitted stream: per
// session, at most one non-terminal status holds at a time and nothing
// follows completed/error except closed, and nothing follows closed.
func TestCoordinator_RandomOperationSequences(t *testing.T) {
	t.Parallel()

	c, ch, cancel := newTestCoordinator(10*time.Millisecond, 30*time.Millisecond)
	defer cancel()

	rng := rand.New(rand.NewSource(42))
	sessions := []string{"a", "b", "c", "d"}
	for _, id := range sessions {
		c.Accept(id, "web")
	}

	for i := 0; i < 400; i++ {
		id := sessions[rng.Intn(len(sessions))]
		switch rng.Intn(5) {
		case 0:
			c.ObserveOutput(id)
		case 1:
			c.Stop(id)
		case 2:
			c.Fail(id, "induced")
		case 3:
			c.Close(id)
		case 4:
			time.Sleep(time.Duration(rng.Intn(5)) * time.Millisecond)
		}
	}
	time.Sleep(60 * time.Millisecond) // let stragglers fire
	cancel()

	last := map[string]status.Status{}
	for ev := range ch {
		prev, seen := last[ev.SessionID]
		if seen {
			switch prev {
			case status.StatusClosed:
				t.Fatalf("session %s transitioned after closed: %s", ev.SessionID, ev.Status)
			case status.StatusCompleted, status.StatusError:
				require.Equal(t, status.StatusClosed, ev.Status,
					"session %s: only close may follow %s", ev.SessionID, prev)
			}
		}
		last[ev.SessionID] = ev.Status
	}
}
