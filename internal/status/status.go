// Package status defines the canonical session-status vocabulary and the
// single validated event type every presentation surface consumes.
package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the lifecycle state of an agent session.
type Status string

const (
	StatusAccepted       Status = "accepted"
	StatusAwaitingOutput Status = "awaiting_output"
	StatusActiveOutput   Status = "active_output"
	StatusStalled        Status = "stalled"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
	StatusClosed         Status = "closed"
)

// Reason codes carried on canonical status events.
const (
	ReasonWorkAccepted   = "work_accepted"
	ReasonOutputObserved = "output_observed"
	ReasonStallTimeout   = "stall_timeout"
	ReasonNormalStop     = "normal_stop"
	ReasonSessionClosed  = "session_closed"
)

// allStatuses is the complete seven-value vocabulary. Any candidate
// outside this set is rejected by Build.
var allStatuses = map[Status]bool{
	StatusAccepted:       true,
	StatusAwaitingOutput: true,
	StatusActiveOutput:   true,
	StatusStalled:        true,
	StatusCompleted:      true,
	StatusError:          true,
	StatusClosed:         true,
}

// Valid reports whether s is part of the status vocabulary.
func (s Status) Valid() bool {
	return allStatuses[s]
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusClosed
}

// DeliveryScope hints how an event should be routed by the multiplexer.
type DeliveryScope string

const (
	ScopeBroadcast  DeliveryScope = "broadcast"
	ScopeOriginOnly DeliveryScope = "origin_only"
)

// Event is the canonical status event: the single source of truth any
// surface is allowed to render. Immutable after construction: build one
// through Build, never by hand.
type Event struct {
	SessionID      string
	Status         Status
	Reason         string
	Timestamp      time.Time
	LastActivityAt time.Time // zero means "no activity observed yet"

	// Optional routing hints for the adapter multiplexer.
	MessageIntent string
	DeliveryScope DeliveryScope
}

// Candidate is an unvalidated status emission. Callers fill one in and
// pass it through Build; a rejected candidate is a bug in the caller.
type Candidate struct {
	SessionID      string
	Status         Status
	Reason         string
	Timestamp      time.Time
	LastActivityAt time.Time
	MessageIntent  string
	DeliveryScope  DeliveryScope
}

// Build validates a candidate and returns the canonical event. Every
// status emission path must pass through here; there is no other way to
// obtain an Event with guaranteed-valid contents.
func Build(c Candidate) (Event, error) {
	if c.SessionID == "" {
		return Event{}, fmt.Errorf("status: missing session_id")
	}
	if c.Status == "" {
		return Event{}, fmt.Errorf("status: missing status")
	}
	if !c.Status.Valid() {
		return Event{}, fmt.Errorf("status: unknown status %q", c.Status)
	}
	if c.Timestamp.IsZero() {
		return Event{}, fmt.Errorf("status: missing timestamp")
	}
	switch c.DeliveryScope {
	case "":
		c.DeliveryScope = ScopeBroadcast
	case ScopeBroadcast, ScopeOriginOnly:
	default:
		return Event{}, fmt.Errorf("status: unknown delivery scope %q", c.DeliveryScope)
	}
	return Event{
		SessionID:      c.SessionID,
		Status:         c.Status,
		Reason:         c.Reason,
		Timestamp:      c.Timestamp.UTC(),
		LastActivityAt: c.LastActivityAt,
		MessageIntent:  c.MessageIntent,
		DeliveryScope:  c.DeliveryScope,
	}, nil
}

// wireEvent is the JSON payload shape consumed by presentation surfaces.
type wireEvent struct {
	Event          string  `json:"event"`
	SessionID      string  `json:"session_id"`
	Status         Status  `json:"status"`
	Reason         string  `json:"reason"`
	Timestamp      string  `json:"timestamp"`
	LastActivityAt *string `json:"last_activity_at"`
}

// MarshalJSON renders the canonical wire payload.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Event:     "session_status",
		SessionID: e.SessionID,
		Status:    e.Status,
		Reason:    e.Reason,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	}
	if !e.LastActivityAt.IsZero() {
		s := e.LastActivityAt.UTC().Format(time.RFC3339)
		w.LastActivityAt = &s
	}
	return json.Marshal(w)
}
