package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vecsync/vecsync/internal/state"
	"github.com/vecsync/vecsync/internal/syncer"
)

// handleSyncStatus reports the engine state and store stats.
func (s *Server) handleSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.state.GetState(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading sync state failed: %v", err)), nil
	}
	locked, err := s.state.IsLocked(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading lock failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sync status\n")
	fmt.Fprintf(&b, "  last sync:       %s\n", orNever(st.LastSyncTime))
	fmt.Fprintf(&b, "  files processed: %d\n", st.FilesProcessed)
	fmt.Fprintf(&b, "  errors:          %d\n", st.ErrorCount)
	fmt.Fprintf(&b, "  has cursor:      %t\n", st.Cursor != nil && *st.Cursor != "")
	fmt.Fprintf(&b, "  run in progress: %t\n", locked)
	if st.LastSyncDurationMs != nil {
		fmt.Fprintf(&b, "  last duration:   %dms\n", *st.LastSyncDurationMs)
	}

	if info, err := s.store.Describe(ctx); err == nil {
		fmt.Fprintf(&b, "Vector store\n")
		fmt.Fprintf(&b, "  collection: %s\n", info.Name)
		fmt.Fprintf(&b, "  vectors:    %d\n", info.Count)
		fmt.Fprintf(&b, "  status:     %s\n", info.Status)
	}

	return mcp.NewToolResultText(b.String()), nil
}

// handleSyncHistory lists recent runs, newest first.
func (s *Server) handleSyncHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}

	entries, err := s.state.GetSyncHistory(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading sync history failed: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No sync runs recorded yet."), nil
	}

	return mcp.NewToolResultText(formatHistory(entries)), nil
}

// handleTriggerSync runs a sync inline and reports the result.
func (s *Server) handleTriggerSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	full := request.GetBool("full", false)

	res, err := s.engine.Run(ctx, full)
	if err != nil {
		if errors.Is(err, syncer.ErrLocked) {
			return mcp.NewToolResultError("a sync run is already in progress"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}

	mode := "incremental"
	if res.Full {
		mode = "full"
	}
	text := fmt.Sprintf("%s sync completed: %d files, %d vectors upserted, %d deleted, %d errors in %s",
		mode, res.FilesProcessed, res.VectorsUpserted, res.VectorsDeleted, len(res.Errors),
		res.Duration.Round(time.Millisecond))
	if len(res.Errors) > 0 {
		text += "\nErrors:\n  " + strings.Join(res.Errors, "\n  ")
	}
	return mcp.NewToolResultText(text), nil
}

func formatHistory(entries []state.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d sync run(s):\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "  %s  files=%d upserted=%d deleted=%d errors=%d duration=%dms\n",
			e.Timestamp, e.FilesProcessed, e.VectorsUpserted, e.VectorsDeleted, len(e.Errors), e.DurationMs)
	}
	return b.String()
}

func orNever(s *string) string {
	if s == nil || *s == "" {
		return "never"
	}
	return *s
}
