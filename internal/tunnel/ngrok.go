package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	ngroklib "golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"
)

// NgrokTunnel implements Tunnel over ngrok. With a domain configured it
// binds that fixed endpoint; without one ngrok assigns a random URL.
type NgrokTunnel struct {
	authToken string
	domain    string
	listener  net.Listener
	url       string
}

// NewNgrok creates an ngrok tunnel. The token is mandatory; the domain
// is optional.
func NewNgrok(authToken, domain string) *NgrokTunnel {
	return &NgrokTunnel{
		authToken: authToken,
		domain:    domain,
	}
}

// Start opens the tunnel and returns its public URL. localAddr is
// informational; ngrok provides its own listener, exposed via Listener.
func (n *NgrokTunnel) Start(ctx context.Context, localAddr string) (string, error) {
	if n.authToken == "" {
		return "", fmt.Errorf("ngrok auth token is required (set tunnel.authtoken in config or the TELECLAUDE_NGROK_AUTHTOKEN env var)")
	}

	slog.Info("starting ngrok tunnel", "local_addr", localAddr, "domain", n.domain)

	var tunnelConfig ngrokconfig.Tunnel
	if n.domain != "" {
		tunnelConfig = ngrokconfig.HTTPEndpoint(
			ngrokconfig.WithDomain(n.domain),
		)
	} else {
		tunnelConfig = ngrokconfig.HTTPEndpoint()
	}

	listener, err := ngroklib.Listen(
		ctx,
		tunnelConfig,
		ngroklib.WithAuthtoken(n.authToken),
	)
	if err != nil {
		return "", fmt.Errorf("creating ngrok tunnel: %w", err)
	}
	n.listener = listener

	// Addr on an ngrok listener is the public endpoint, possibly without
	// a scheme.
	addr := listener.Addr().String()
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "https://" + addr
	}
	n.url = addr

	slog.Info("ngrok tunnel established", "public_url", n.url)
	return n.url, nil
}

// Close shuts the tunnel down. Safe to call before Start.
func (n *NgrokTunnel) Close() error {
	if n.listener == nil {
		return nil
	}

	slog.Info("closing ngrok tunnel", "public_url", n.url)
	if err := n.listener.Close(); err != nil {
		return fmt.Errorf("closing ngrok tunnel: %w", err)
	}
	n.listener = nil
	n.url = ""
	return nil
}

// PublicURL returns the public URL, empty before Start.
func (n *NgrokTunnel) PublicURL() string {
	return n.url
}

// Listener returns the tunnel's listener for serving HTTP.
func (n *NgrokTunnel) Listener() net.Listener {
	return n.listener
}
