package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Multiplexer routes outbound operations for one session across the
// registry. The origin send is awaited and its result returned to the
// caller; observer fan-out happens concurrently and a failing observer
// never fails the operation.
type Multiplexer struct {
	registry *Registry
	logger   *slog.Logger
}

// NewMultiplexer creates a Multiplexer over the given registry.
func NewMultiplexer(registry *Registry, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{registry: registry, logger: logger}
}

// Broadcast sends op to the session's origin adapter first and, when the
// operation is broadcast-scoped, fans it out to every other connected
// presentation adapter that can render it. The returned value is the
// origin adapter's result; origin failure fails the whole operation,
// observer failures are logged and swallowed.
func (m *Multiplexer) Broadcast(ctx context.Context, sess Session, op Operation, render RenderFunc) (any, error) {
	targets := m.registry.snapshot()

	var origin Adapter
	for _, reg := range targets {
		if reg.adapter.Name() == sess.Origin {
			origin = reg.adapter
			break
		}
	}
	if origin == nil {
		return nil, fmt.Errorf("origin adapter %q not registered", sess.Origin)
	}
	if !origin.Connected() {
		return nil, fmt.Errorf("origin adapter %q not connected", sess.Origin)
	}
	if !origin.CanRender(op) {
		return nil, fmt.Errorf("origin adapter %q cannot render %s", sess.Origin, op)
	}

	result, err := render(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("origin send to %s: %w", sess.Origin, err)
	}

	if !op.Broadcasts() {
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range targets {
		if reg.adapter.Name() == sess.Origin {
			continue
		}
		if !reg.presentation {
			continue
		}
		a := reg.adapter
		if !a.Connected() || !a.CanRender(op) {
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("adapter broadcast panicked",
						"adapter", a.Name(), "session", sess.ID, "op", string(op), "panic", r)
				}
			}()
			if _, err := render(gctx, a); err != nil {
				m.logger.Warn("adapter broadcast failed",
					"adapter", a.Name(), "session", sess.ID, "op", string(op), "error", err)
			}
			return nil
		})
	}
	// Errors never propagate out of the group; Wait only joins the fan-out.
	_ = g.Wait()

	return result, nil
}

// SendToOrigin sends an origin-only operation, bypassing fan-out
// entirely regardless of the operation's scope.
func (m *Multiplexer) SendToOrigin(ctx context.Context, sess Session, op Operation, render RenderFunc) (any, error) {
	origin, ok := m.registry.Get(sess.Origin)
	if !ok {
		return nil, fmt.Errorf("origin adapter %q not registered", sess.Origin)
	}
	if !origin.Connected() {
		return nil, fmt.Errorf("origin adapter %q not connected", sess.Origin)
	}
	if !origin.CanRender(op) {
		return nil, fmt.Errorf("origin adapter %q cannot render %s", sess.Origin, op)
	}
	result, err := render(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("origin send to %s: %w", sess.Origin, err)
	}
	return result, nil
}
