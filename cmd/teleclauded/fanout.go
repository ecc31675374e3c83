package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/adapter"
	"github.com/InstruktAI/TeleClaude-sub007/internal/bus"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
	"github.com/InstruktAI/TeleClaude-sub007/internal/web"
)

// sessionTracker is the slice of the coordinator the fan-out needs:
// resolving a live session to its origin adapter.
type sessionTracker interface {
	Origin(sessionID string) (string, bool)
}

// reconcileInterval bounds how long a stale origin entry can outlive
// its session when the closed event was dropped by the bus.
const reconcileInterval = time.Minute

// statusFan pumps canonical status events into the adapter multiplexer.
// Origins are cached per session because the closed event arrives after
// the coordinator has released the session's state; the cache is swept
// against the coordinator so dropped closed events cannot leak entries.
// The last broadcast status is persisted as adapter metadata so surfaces
// that edit a single status message can resume after a reconnect.
type statusFan struct {
	tracker sessionTracker
	mux     *adapter.Multiplexer
	store   outbox.Store

	origins map[string]string
	render  func(status.Event) adapter.RenderFunc
}

func newStatusFan(tracker sessionTracker, mux *adapter.Multiplexer, store outbox.Store) *statusFan {
	return &statusFan{
		tracker: tracker,
		mux:     mux,
		store:   store,
		origins: make(map[string]string),
		render:  renderStatus,
	}
}

// run consumes the bus until ctx is cancelled or the bus closes.
func (f *statusFan) run(ctx context.Context, b *bus.Bus) {
	events, cancel := b.Subscribe()
	defer cancel()

	sweep := time.NewTicker(reconcileInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			f.reconcile()
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.handle(ctx, ev)
		}
	}
}

// handle fans one event out per its routing hints: the delivery scope
// chooses broadcast versus origin-only, the message intent chooses the
// operation class.
func (f *statusFan) handle(ctx context.Context, ev status.Event) {
	origin, known := f.origins[ev.SessionID]
	if !known {
		o, ok := f.tracker.Origin(ev.SessionID)
		if !ok {
			slog.Debug("status event without known origin, skipping fan-out",
				"session_id", ev.SessionID, "status", string(ev.Status))
			return
		}
		origin = o
		f.origins[ev.SessionID] = o
	}
	if ev.Status == status.StatusClosed {
		delete(f.origins, ev.SessionID)
	}

	sess := adapter.Session{ID: ev.SessionID, Origin: origin}
	op := eventOperation(ev)

	var err error
	if ev.DeliveryScope == status.ScopeOriginOnly {
		_, err = f.mux.SendToOrigin(ctx, sess, op, f.render(ev))
	} else {
		_, err = f.mux.Broadcast(ctx, sess, op, f.render(ev))
	}
	if err != nil {
		slog.Warn("status fan-out failed",
			"session_id", ev.SessionID, "status", string(ev.Status), "error", err)
		return
	}

	if err := f.store.SetAdapterMeta(ev.SessionID, origin, "last_status", string(ev.Status)); err != nil {
		slog.Warn("persisting last status failed",
			"session_id", ev.SessionID, "adapter", origin, "error", err)
	}
}

// reconcile evicts cached origins for sessions the coordinator no
// longer tracks. Normally the closed event clears an entry in handle;
// this covers events the bus dropped under backpressure.
func (f *statusFan) reconcile() {
	for id := range f.origins {
		if _, ok := f.tracker.Origin(id); !ok {
			delete(f.origins, id)
		}
	}
}

// eventOperation maps the event's message intent onto an adapter
// operation. An empty intent is the common case: a plain status update.
func eventOperation(ev status.Event) adapter.Operation {
	switch ev.MessageIntent {
	case "message":
		return adapter.OpMessage
	case "ephemeral":
		return adapter.OpEphemeral
	default:
		return adapter.OpStatusUpdate
	}
}

// renderStatus builds the per-adapter render callback for one event.
func renderStatus(ev status.Event) adapter.RenderFunc {
	return func(ctx context.Context, a adapter.Adapter) (any, error) {
		switch t := a.(type) {
		case *web.FeedAdapter:
			return nil, t.Push(ev.SessionID, eventOperation(ev), string(ev.Status))
		case *mcpOriginAdapter:
			return nil, t.notify(ev)
		default:
			return nil, nil
		}
	}
}

// mcpOriginAdapter represents attached MCP clients in the adapter
// registry. It is transport-only: sessions originate here, but it is
// never a broadcast target.
type mcpOriginAdapter struct {
	server *server.MCPServer
}

func (m *mcpOriginAdapter) Name() string    { return "mcp" }
func (m *mcpOriginAdapter) Connected() bool { return true }

func (m *mcpOriginAdapter) CanRender(op adapter.Operation) bool {
	switch op {
	case adapter.OpStatusUpdate, adapter.OpMessage, adapter.OpEphemeral:
		return true
	default:
		return false
	}
}

// notify pushes the status change to every attached MCP client as a
// notifications/message.
func (m *mcpOriginAdapter) notify(ev status.Event) error {
	m.server.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": "teleclaude",
		"data": map[string]any{
			"type":       "session_status",
			"session_id": ev.SessionID,
			"status":     string(ev.Status),
			"reason":     ev.Reason,
		},
	})
	return nil
}
