package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
)

// ListNotifications returns a handler that lists recent outbox rows.
func ListNotifications(store outbox.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		limit := 20
		if n, ok := args["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}
		filter := ""
		if s, ok := args["status"].(string); ok && s != "all" {
			filter = s
		}

		rows, err := store.ListRecent(limit)
		if err != nil {
			return mcp.NewToolResultText(fmt.Sprintf("Error listing notifications: %v", err)), nil
		}

		var kept []outbox.Row
		for _, row := range rows {
			if filter != "" && row.Status != filter {
				continue
			}
			kept = append(kept, row)
		}

		if len(kept) == 0 {
			return mcp.NewToolResultText("No notifications found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Notifications (%d found)\n\n", len(kept))
		for _, row := range kept {
			sb.WriteString(fmt.Sprintf("%s **%s** via %s | %s\n",
				deliveryIcon(row.Status), row.SourceKey, row.DeliveryChannel, row.Status))
			sb.WriteString(fmt.Sprintf("  Created: %s", row.CreatedAt.UTC().Format(time.RFC3339)))
			if row.RetryCount > 0 {
				sb.WriteString(fmt.Sprintf(" | Retries: %d", row.RetryCount))
			}
			sb.WriteString("\n")
			if row.LastError != "" {
				sb.WriteString(fmt.Sprintf("  Error: %s\n", row.LastError))
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func deliveryIcon(s string) string {
	switch s {
	case outbox.StatusDelivered:
		return "✅"
	case outbox.StatusFailed:
		return "❌"
	default:
		return "⏳"
	}
}
