package web

import (
	"encoding/json"
	"time"

	"github.com/InstruktAI/TeleClaude-sub007/internal/adapter"
)

// FeedAdapterName is the registry name of the browser surface.
const FeedAdapterName = "web"

// FeedAdapter presents the browser surface to the adapter multiplexer:
// broadcast operations become frames on the websocket hub. It is
// connected whenever at least one browser client is attached, so the
// multiplexer skips it instead of pushing frames nobody reads.
type FeedAdapter struct {
	hub *Hub
}

// NewFeedAdapter creates the adapter over the server's hub.
func NewFeedAdapter(hub *Hub) *FeedAdapter {
	return &FeedAdapter{hub: hub}
}

func (f *FeedAdapter) Name() string { return FeedAdapterName }

func (f *FeedAdapter) Connected() bool { return f.hub.ClientCount() > 0 }

// CanRender reports which operations the browser feed understands. File
// payloads and ephemeral feedback have no home in a broadcast feed.
func (f *FeedAdapter) CanRender(op adapter.Operation) bool {
	switch op {
	case adapter.OpMessage, adapter.OpStatusUpdate, adapter.OpChannelLifecycle:
		return true
	default:
		return false
	}
}

// feedFrame is the wire shape of one broadcast operation on the feed.
type feedFrame struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Op        string `json:"op"`
	Text      string `json:"text,omitempty"`
	At        string `json:"at"`
}

// Push renders one operation for the browser feed. Used as the body of
// the multiplexer's render callback for this adapter.
func (f *FeedAdapter) Push(sessionID string, op adapter.Operation, text string) error {
	frame := feedFrame{
		Event:     "session_op",
		SessionID: sessionID,
		Op:        string(op),
		Text:      text,
		At:        time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	f.hub.Broadcast(data)
	return nil
}
