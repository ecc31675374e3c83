// Package adapter fans outbound operations out to the attached
// presentation surfaces. The multiplexer decides, per operation, whether
// an event goes to the session's origin surface only or is broadcast to
// every attached presentation adapter.
package adapter

import (
	"context"
	"sync"
)

// Session is the slice of session identity the multiplexer needs: the
// session ID and the surface that created it.
type Session struct {
	ID     string
	Origin string
}

// Operation classifies one outbound action.
type Operation string

const (
	// Broadcast to every presentation adapter.
	OpMessage          Operation = "message"
	OpStatusUpdate     Operation = "status_update"
	OpChannelLifecycle Operation = "channel_lifecycle"

	// Origin-only: ambient feedback and file payloads meant for the requester.
	OpEphemeral    Operation = "ephemeral"
	OpFileDelivery Operation = "file_delivery"
)

// Broadcasts reports whether the operation fans out beyond the origin.
func (o Operation) Broadcasts() bool {
	switch o {
	case OpMessage, OpStatusUpdate, OpChannelLifecycle:
		return true
	default:
		return false
	}
}

// Adapter is one attached surface. Implementations live at the edges
// (chat bots, web, terminal); this package only needs identity,
// connectivity and rendering capability.
type Adapter interface {
	Name() string
	Connected() bool
	CanRender(op Operation) bool
}

// RenderFunc invokes one operation against one adapter and returns the
// adapter's result. The multiplexer calls it once per target.
type RenderFunc func(ctx context.Context, a Adapter) (any, error)

// registration tags an adapter with its capability: presentation
// adapters render to a human and are broadcast targets; transport-only
// adapters are pure message-bus bindings and never receive broadcasts.
// The flag is fixed at registration time, never inferred from the
// adapter's type at call time.
type registration struct {
	adapter      Adapter
	presentation bool
}

// Registry is the runtime map of attached adapters. Read-mostly: the
// only mutations are adapter (re)connect and disconnect.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// RegisterPresentation attaches an adapter that renders to a human.
func (r *Registry) RegisterPresentation(a Adapter) {
	r.register(a, true)
}

// RegisterTransport attaches a transport-only adapter. It is addressable
// as an origin but never targeted by broadcast fan-out.
func (r *Registry) RegisterTransport(a Adapter) {
	r.register(a, false)
}

func (r *Registry) register(a Adapter, presentation bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.Name()] = registration{adapter: a, presentation: presentation}
}

// Unregister detaches an adapter by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return reg.adapter, true
}

// snapshot copies the current registrations so an in-flight broadcast
// never races an adapter connect/disconnect.
func (r *Registry) snapshot() []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	return out
}
