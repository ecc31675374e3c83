package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/coordinator"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

// ListSessions returns a handler that lists tracked sessions.
func ListSessions(coord *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := ""
		if s, ok := args["status"].(string); ok && s != "all" {
			filter = s
		}

		snaps := coord.List()
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].SessionID < snaps[j].SessionID })

		var kept []coordinator.Snapshot
		for _, snap := range snaps {
			if filter != "" && string(snap.Status) != filter {
				continue
			}
			kept = append(kept, snap)
		}

		if len(kept) == 0 {
			return mcp.NewToolResultText("No sessions found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Sessions (%d found)\n\n", len(kept))
		for _, snap := range kept {
			sb.WriteString(fmt.Sprintf("%s **%s** | %s\n", statusIcon(snap.Status), snap.SessionID, snap.Status))
			sb.WriteString(fmt.Sprintf("  Origin: %s | Accepted: %s\n",
				snap.OriginAdapter, snap.AcceptedAt.UTC().Format(time.RFC3339)))
			if !snap.LastActivityAt.IsZero() {
				sb.WriteString(fmt.Sprintf("  Last activity: %s\n",
					snap.LastActivityAt.UTC().Format(time.RFC3339)))
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func statusIcon(s status.Status) string {
	switch s {
	case status.StatusAccepted:
		return "📥"
	case status.StatusAwaitingOutput:
		return "⏳"
	case status.StatusActiveOutput:
		return "🔄"
	case status.StatusStalled:
		return "⚠️"
	case status.StatusCompleted:
		return "✅"
	case status.StatusError:
		return "❌"
	case status.StatusClosed:
		return "🚪"
	default:
		return "❓"
	}
}
