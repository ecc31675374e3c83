package main

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InstruktAI/TeleClaude-sub007/internal/adapter"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

type stubTracker struct {
	origins map[string]string
}

func (s *stubTracker) Origin(sessionID string) (string, bool) {
	o, ok := s.origins[sessionID]
	return o, ok
}

type stubAdapter struct {
	name      string
	connected bool
}

func (s *stubAdapter) Name() string                       { return s.name }
func (s *stubAdapter) Connected() bool                    { return s.connected }
func (s *stubAdapter) CanRender(_ adapter.Operation) bool { return true }

// newTestFan wires a statusFan over an in-memory store whose render
// callback records the adapter names it was invoked for.
func newTestFan(t *testing.T, tracker *stubTracker, registry *adapter.Registry) (*statusFan, outbox.Store, func() []string) {
	t.Helper()

	store, err := outbox.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fan := newStatusFan(tracker, adapter.NewMultiplexer(registry, nil), store)

	var mu sync.Mutex
	var rendered []string
	fan.render = func(status.Event) adapter.RenderFunc {
		return func(_ context.Context, a adapter.Adapter) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			rendered = append(rendered, a.Name())
			return nil, nil
		}
	}
	got := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := append([]string(nil), rendered...)
		sort.Strings(out)
		return out
	}
	return fan, store, got
}

func testEvent(t *testing.T, c status.Candidate) status.Event {
	t.Helper()
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	ev, err := status.Build(c)
	require.NoError(t, err)
	return ev
}

func TestStatusFan_BroadcastReachesObservers(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.RegisterTransport(&stubAdapter{name: "mcp", connected: true})
	registry.RegisterPresentation(&stubAdapter{name: "web", connected: true})

	tracker := &stubTracker{origins: map[string]string{"ses-1": "mcp"}}
	fan, store, rendered := newTestFan(t, tracker, registry)

	fan.handle(context.Background(), testEvent(t, status.Candidate{
		SessionID: "ses-1", Status: status.StatusAccepted, Reason: status.ReasonWorkAccepted,
	}))

	assert.Equal(t, []string{"mcp", "web"}, rendered())

	last, err := store.AdapterMeta("ses-1", "mcp", "last_status")
	require.NoError(t, err)
	assert.Equal(t, "accepted", last)
}

func TestStatusFan_OriginOnlyScopeSkipsObservers(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.RegisterTransport(&stubAdapter{name: "mcp", connected: true})
	registry.RegisterPresentation(&stubAdapter{name: "web", connected: true})

	tracker := &stubTracker{origins: map[string]string{"ses-1": "mcp"}}
	fan, _, rendered := newTestFan(t, tracker, registry)

	fan.handle(context.Background(), testEvent(t, status.Candidate{
		SessionID: "ses-1", Status: status.StatusActiveOutput, Reason: status.ReasonOutputObserved,
		DeliveryScope: status.ScopeOriginOnly,
	}))

	assert.Equal(t, []string{"mcp"}, rendered(), "origin-only events never fan out")
}

func TestStatusFan_MessageIntentSelectsOperation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, adapter.OpStatusUpdate, eventOperation(status.Event{}))
	assert.Equal(t, adapter.OpMessage, eventOperation(status.Event{MessageIntent: "message"}))
	assert.Equal(t, adapter.OpEphemeral, eventOperation(status.Event{MessageIntent: "ephemeral"}))
	assert.Equal(t, adapter.OpStatusUpdate, eventOperation(status.Event{MessageIntent: "unknown"}))
}

func TestStatusFan_ClosedEventEvictsCachedOrigin(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.RegisterTransport(&stubAdapter{name: "mcp", connected: true})

	tracker := &stubTracker{origins: map[string]string{"ses-1": "mcp"}}
	fan, _, _ := newTestFan(t, tracker, registry)

	fan.handle(context.Background(), testEvent(t, status.Candidate{
		SessionID: "ses-1", Status: status.StatusCompleted, Reason: status.ReasonNormalStop,
	}))
	require.Contains(t, fan.origins, "ses-1")

	// The closed event arrives after the coordinator released the
	// session; delivery still resolves through the cache, then evicts.
	delete(tracker.origins, "ses-1")
	fan.handle(context.Background(), testEvent(t, status.Candidate{
		SessionID: "ses-1", Status: status.StatusClosed, Reason: status.ReasonSessionClosed,
	}))
	assert.NotContains(t, fan.origins, "ses-1")
}

func TestStatusFan_ReconcileEvictsUntrackedSessions(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	registry.RegisterTransport(&stubAdapter{name: "mcp", connected: true})

	tracker := &stubTracker{origins: map[string]string{"ses-1": "mcp", "ses-2": "mcp"}}
	fan, _, _ := newTestFan(t, tracker, registry)

	for _, id := range []string{"ses-1", "ses-2"} {
		fan.handle(context.Background(), testEvent(t, status.Candidate{
			SessionID: id, Status: status.StatusAccepted, Reason: status.ReasonWorkAccepted,
		}))
	}
	require.Len(t, fan.origins, 2)

	// ses-1's closed event was dropped under backpressure and the
	// coordinator no longer tracks it. The sweep catches up.
	delete(tracker.origins, "ses-1")
	fan.reconcile()

	assert.NotContains(t, fan.origins, "ses-1")
	assert.Contains(t, fan.origins, "ses-2")
}

func TestStatusFan_UnknownOriginSkipped(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	tracker := &stubTracker{origins: map[string]string{}}
	fan, store, rendered := newTestFan(t, tracker, registry)

	fan.handle(context.Background(), testEvent(t, status.Candidate{
		SessionID: "ses-9", Status: status.StatusAccepted, Reason: status.ReasonWorkAccepted,
	}))

	assert.Empty(t, rendered())
	assert.Empty(t, fan.origins)

	last, err := store.AdapterMeta("ses-9", "mcp", "last_status")
	require.NoError(t, err)
	assert.Empty(t, last)
}
