package handlers

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/coordinator"
)

// DefaultOrigin is the adapter name recorded for sessions accepted over
// MCP when the caller does not name one.
const DefaultOrigin = "mcp"

// AcceptSession returns a handler that registers a new session.
func AcceptSession(coord *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sessionID, ok := args["session_id"].(string)
		if !ok || sessionID == "" {
			return mcp.NewToolResultText("Error: session_id is required"), nil
		}
		origin := DefaultOrigin
		if o, ok := args["origin_adapter"].(string); ok && o != "" {
			origin = o
		}

		coord.Accept(sessionID, origin)
		return mcp.NewToolResultText(fmt.Sprintf("Session %s accepted (origin: %s).", sessionID, origin)), nil
	}
}

// ReportOutput returns a handler that records observed session output.
func ReportOutput(coord *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, ok := req.GetArguments()["session_id"].(string)
		if !ok || sessionID == "" {
			return mcp.NewToolResultText("Error: session_id is required"), nil
		}

		coord.ObserveOutput(sessionID)
		return mcp.NewToolResultText(fmt.Sprintf("Output recorded for session %s.", sessionID)), nil
	}
}

// FinishSession returns a handler that marks a session completed or
// failed, then optionally closes it.
func FinishSession(coord *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		sessionID, ok := args["session_id"].(string)
		if !ok || sessionID == "" {
			return mcp.NewToolResultText("Error: session_id is required"), nil
		}

		outcome, _ := args["outcome"].(string)
		switch outcome {
		case "", "completed":
			coord.Stop(sessionID)
		case "error":
			reason, _ := args["reason"].(string)
			if reason == "" {
				reason = "unspecified error"
			}
			coord.Fail(sessionID, reason)
		default:
			return mcp.NewToolResultText(fmt.Sprintf("Error: unknown outcome %q (want completed or error)", outcome)), nil
		}

		if closeIt, _ := args["close"].(bool); closeIt {
			coord.Close(sessionID)
			return mcp.NewToolResultText(fmt.Sprintf("Session %s finished (%s) and closed.", sessionID, outcomeLabel(outcome))), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Session %s finished (%s).", sessionID, outcomeLabel(outcome))), nil
	}
}

// CloseSession returns a handler that releases a session's state.
func CloseSession(coord *coordinator.Coordinator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, ok := req.GetArguments()["session_id"].(string)
		if !ok || sessionID == "" {
			return mcp.NewToolResultText("Error: session_id is required"), nil
		}

		coord.Close(sessionID)
		return mcp.NewToolResultText(fmt.Sprintf("Session %s closed.", sessionID)), nil
	}
}

func outcomeLabel(outcome string) string {
	if outcome == "" {
		return "completed"
	}
	return outcome
}
