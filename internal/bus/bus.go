// Package bus is the in-process event bus carrying canonical status
// events from the session coordinator to attached consumers.
package bus

import (
	"log/slog"
	"sync"

	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

const defaultBuffer = 64

// Bus fans canonical status events out to subscribers. Publish never
// blocks: a subscriber that stops draining its channel loses events and
// the drop is logged.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan status.Event
	nextID int
	buffer int
	closed bool
}

// New creates a Bus with the default per-subscriber buffer.
func New() *Bus {
	return &Bus{
		subs:   make(map[int]chan status.Event),
		buffer: defaultBuffer,
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// a cancel function. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe() (<-chan status.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan status.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (b *Bus) Publish(ev status.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("status event dropped for slow subscriber",
				"subscriber", id,
				"session_id", ev.SessionID,
				"status", string(ev.Status))
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
