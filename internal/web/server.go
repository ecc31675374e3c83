package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/InstruktAI/TeleClaude-sub007/internal/coordinator"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

// defaultRecentLimit bounds the notifications listing.
const defaultRecentLimit = 50

// Bus is the slice of the event bus the server consumes.
type Bus interface {
	Subscribe() (<-chan status.Event, func())
}

// Server is the read-only web surface. Mutations go through the MCP
// tools or the origin adapters, never through HTTP.
type Server struct {
	coord *coordinator.Coordinator
	store outbox.Store
	bus   Bus
	hub   *Hub
}

// NewServer wires the web surface over the coordinator, outbox store and
// event bus.
func NewServer(coord *coordinator.Coordinator, store outbox.Store, bus Bus) *Server {
	return &Server{
		coord: coord,
		store: store,
		bus:   bus,
		hub:   NewHub(),
	}
}

// Hub exposes the websocket hub, mainly for the feed adapter.
func (s *Server) Hub() *Hub { return s.hub }

// Routes returns the chi router for the surface.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/notifications", s.handleListNotifications)
	})

	r.Get("/ws", s.hub.handleWS)

	return r
}

// Run pumps canonical status events from the bus into the websocket hub
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	events, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Error("marshalling status event for websocket", "error", err)
				continue
			}
			s.hub.Broadcast(data)
		}
	}
}

// sessionJSON is the API shape of one tracked session.
type sessionJSON struct {
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status"`
	OriginAdapter  string  `json:"origin_adapter"`
	AcceptedAt     string  `json:"accepted_at"`
	LastActivityAt *string `json:"last_activity_at"`
}

func toSessionJSON(snap coordinator.Snapshot) sessionJSON {
	out := sessionJSON{
		SessionID:     snap.SessionID,
		Status:        string(snap.Status),
		OriginAdapter: snap.OriginAdapter,
		AcceptedAt:    snap.AcceptedAt.UTC().Format(time.RFC3339),
	}
	if !snap.LastActivityAt.IsZero() {
		s := snap.LastActivityAt.UTC().Format(time.RFC3339)
		out.LastActivityAt = &s
	}
	return out
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.coord.List()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].SessionID < snaps[j].SessionID })

	out := make([]sessionJSON, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, toSessionJSON(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.coord.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(snap))
}

// notificationJSON is the API shape of one outbox row. The rendered text
// and recipient address stay internal; the surface shows delivery state.
type notificationJSON struct {
	ID         string `json:"id"`
	SourceKey  string `json:"source_key"`
	Channel    string `json:"channel"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListRecent(defaultRecentLimit)
	if err != nil {
		slog.Error("listing notifications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing notifications"})
		return
	}

	out := make([]notificationJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, notificationJSON{
			ID:         row.ID,
			SourceKey:  row.SourceKey,
			Channel:    row.DeliveryChannel,
			Status:     row.Status,
			RetryCount: row.RetryCount,
			LastError:  row.LastError,
			CreatedAt:  row.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:  row.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing json response", "error", err)
	}
}
