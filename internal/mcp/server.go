package mcp

import (
	"github.com/macrat/telecache/internal/meta"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewServer creates an MCP server that serves the read-only tools over s.
func NewServer(s Source) *mcp.Server {
	impl := &mcp.Implementation{
		Name:    "telecache",
		Version: meta.Version,
		Title:   "telecache",
	}

	opts := &mcp.ServerOptions{
		Instructions: "telecache caches the entities of a telemetry API in tiers of different freshness. The entity lists can be large, so it is recommended to filter by domain and aggregate with jq queries instead of fetching all data at once.",
	}

	server := mcp.NewServer(impl, opts)
	AddReadOnlyTools(server, s)

	return server
}
