package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/coordinator"
	"github.com/InstruktAI/TeleClaude-sub007/internal/status"
)

// CheckSession returns a handler that reports one session's status.
func CheckSession(coord *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sessionID, ok := args["session_id"].(string)
		if !ok || sessionID == "" {
			return mcp.NewToolResultText("Error: session_id is required"), nil
		}

		snap, found := coord.Get(sessionID)
		if !found {
			return mcp.NewToolResultText(fmt.Sprintf("Session %s not found. It may be closed or never accepted.", sessionID)), nil
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("%s Session **%s**\n\n", statusIcon(snap.Status), snap.SessionID))
		sb.WriteString(fmt.Sprintf("Status: %s\n", snap.Status))
		sb.WriteString(fmt.Sprintf("Origin adapter: %s\n", snap.OriginAdapter))
		sb.WriteString(fmt.Sprintf("Accepted at: %s\n", snap.AcceptedAt.UTC().Format(time.RFC3339)))
		if snap.LastActivityAt.IsZero() {
			sb.WriteString("Last activity: none observed yet\n")
		} else {
			sb.WriteString(fmt.Sprintf("Last activity: %s\n", snap.LastActivityAt.UTC().Format(time.RFC3339)))
		}
		if snap.Status == status.StatusStalled {
			sb.WriteString("\nThe session has produced no output past the stall threshold.\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
