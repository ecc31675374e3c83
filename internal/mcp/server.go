// Package mcp exposes the daemon's read surface to MCP clients and
// carries mcp notifications back to them.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/coordinator"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Sessions *coordinator.Coordinator
	Store    outbox.Store
	Version  string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"TeleClaude",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
