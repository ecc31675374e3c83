package channels

import (
	"context"
	"log/slog"
)

// MCPSender abstracts the mcp-go server notification methods.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToSpecificClient(sessionID string, method string, params map[string]any) error
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPChannel delivers notifications to connected MCP clients. The
// recipient address is an MCP client session ID; an empty address
// broadcasts to every connected client.
type MCPChannel struct {
	sender MCPSender
}

// NewMCPChannel creates an MCPChannel over the given sender.
func NewMCPChannel(sender MCPSender) *MCPChannel {
	return &MCPChannel{sender: sender}
}

// Send pushes a notifications/message to the addressed client, falling
// back to broadcast when the targeted client is gone.
func (c *MCPChannel) Send(_ context.Context, address, renderedText string) error {
	params := map[string]any{
		"level":  "info",
		"logger": "teleclaude",
		"data": map[string]any{
			"message": renderedText,
		},
	}

	if address != "" {
		if err := c.sender.SendNotificationToSpecificClient(address, "notifications/message", params); err != nil {
			slog.Debug("mcp notification failed, falling back to broadcast",
				"session_id", address,
				"error", err)
			c.sender.SendNotificationToAllClients("notifications/message", params)
		}
		return nil
	}

	c.sender.SendNotificationToAllClients("notifications/message", params)
	return nil
}
