// Package tunnel exposes the daemon behind a public HTTPS URL so the
// web surface and webhook channels reach it from outside the host.
package tunnel

import (
	"context"
	"net"
)

// Tunnel exposes a local address via a public HTTPS URL.
type Tunnel interface {
	Start(ctx context.Context, localAddr string) (publicURL string, err error)
	Close() error
	PublicURL() string
	Listener() net.Listener
}
