package mcp

import "github.com/mark3labs/mcp-go/mcp"

// syncStatusTool defines the sync_status MCP tool.
var syncStatusTool = mcp.NewTool("sync_status",
	mcp.WithDescription("Get the current sync engine state: last sync time, processed file and error counters, cursor presence, lock status, and vector store stats."),
)

// syncHistoryTool defines the sync_history MCP tool.
var syncHistoryTool = mcp.NewTool("sync_history",
	mcp.WithDescription("List recent sync runs, newest first, with per-run file, vector, and error counts."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of runs to return (default 10)"),
	),
)

// triggerSyncTool defines the trigger_sync MCP tool.
var triggerSyncTool = mcp.NewTool("trigger_sync",
	mcp.WithDescription("Start a sync run. Fails with a conflict message if another run is already in progress."),
	mcp.WithBoolean("full",
		mcp.Description("Force a full sync instead of an incremental one (default false)"),
	),
)
