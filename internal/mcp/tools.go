package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/InstruktAI/TeleClaude-sub007/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// accept_session — register a new session
	s.AddTool(
		mcp.NewTool("accept_session",
			mcp.WithDescription("Register a new agent session. Call this when work is accepted, before any output is produced."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("Unique session identifier"),
			),
			mcp.WithString("origin_adapter",
				mcp.Description("Name of the surface that created the session (default: mcp)"),
			),
		),
		handlers.AcceptSession(deps.Sessions),
	)

	// report_output — record observed output
	s.AddTool(
		mcp.NewTool("report_output",
			mcp.WithDescription("Record that the session produced output. Resets stall detection for the session."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session that produced output"),
			),
		),
		handlers.ReportOutput(deps.Sessions),
	)

	// finish_session — mark a session completed or failed
	s.AddTool(
		mcp.NewTool("finish_session",
			mcp.WithDescription("Mark a session as finished, either completed or with an error. Optionally close it in the same call."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session to finish"),
			),
			mcp.WithString("outcome",
				mcp.Description("Final outcome (default: completed)"),
				mcp.Enum("completed", "error"),
			),
			mcp.WithString("reason",
				mcp.Description("Failure reason when outcome is error"),
			),
			mcp.WithBoolean("close",
				mcp.Description("Also close the session and release its state"),
			),
		),
		handlers.FinishSession(deps.Sessions),
	)

	// close_session — release session state
	s.AddTool(
		mcp.NewTool("close_session",
			mcp.WithDescription("Close a session and release its tracked state."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session to close"),
			),
		),
		handlers.CloseSession(deps.Sessions),
	)

	// list_sessions — list tracked agent sessions
	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List tracked agent sessions with their current status."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("all", "accepted", "awaiting_output", "active_output", "stalled", "completed", "error", "closed"),
			),
		),
		handlers.ListSessions(deps.Sessions),
	)

	// check_session — check one session's status
	s.AddTool(
		mcp.NewTool("check_session",
			mcp.WithDescription("Check the current status, origin and activity of one session."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session ID to check"),
			),
		),
		handlers.CheckSession(deps.Sessions),
	)

	// list_notifications — recent outbox deliveries
	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List recent notification deliveries with their outcome. Failed rows stay visible for review."),
			mcp.WithString("status",
				mcp.Description("Filter by delivery status"),
				mcp.Enum("all", "pending", "delivered", "failed"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of rows to return (default: 20)"),
			),
		),
		handlers.ListNotifications(deps.Store),
	)
}
