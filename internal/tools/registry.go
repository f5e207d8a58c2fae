package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	// Tasks
	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_task",
		Description: "Create a batch task running translate, polish, fill_missing or category_tags over questions",
	}, NewCreateTaskHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks newest first with their progress",
	}, NewListTasksHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_task",
		Description: "Get one task with its progress counters",
	}, NewGetTaskHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_items",
		Description: "List the work items of a task, filterable by operation, status and locale",
	}, NewListItemsHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_task",
		Description: "Cancel a pending, processing or paused task",
	}, NewCancelTaskHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "pause_task",
		Description: "Pause a processing task; unfinished items stay pending",
	}, NewPauseTaskHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "retry_task",
		Description: "Create a new task for the questions a failed, cancelled or paused task did not finish",
	}, NewRetryTaskHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "processing_logs",
		Description: "Recent processing log lines of a task",
	}, NewProcessingLogsHandler(deps))

	// Analytics
	mcp.AddTool(server, &mcp.Tool{
		Name:        "error_stats",
		Description: "Failed items in a window grouped by error code, target locale and stage",
	}, NewErrorStatsHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "consistency",
		Description: "Finished items whose locales are inconsistent, paginated",
	}, NewConsistencyHandler(deps))

	// Reviews
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_reviews",
		Description: "List polish reviews by status",
	}, NewListReviewsHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "approve_review",
		Description: "Approve a polish review and apply it to its question",
	}, NewApproveReviewHandler(deps))
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reject_review",
		Description: "Reject a polish review",
	}, NewRejectReviewHandler(deps))
}
