// Package mcp exposes the sync engine's admin operations as MCP tools so
// automation clients get the same surface as the HTTP API.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/vecsync/vecsync/internal/state"
	"github.com/vecsync/vecsync/internal/syncer"
	"github.com/vecsync/vecsync/internal/vectorstore"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes sync status and control tools.
type Server struct {
	engine *syncer.Engine
	state  *state.Manager
	store  vectorstore.Store
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server with the given dependencies.
func NewServer(engine *syncer.Engine, st *state.Manager, store vectorstore.Store) *Server {
	s := &Server{
		engine: engine,
		state:  st,
		store:  store,
	}

	s.mcp = server.NewMCPServer(
		"vecsync",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(syncStatusTool, s.handleSyncStatus)
	s.mcp.AddTool(syncHistoryTool, s.handleSyncHistory)
	s.mcp.AddTool(triggerSyncTool, s.handleTriggerSync)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
