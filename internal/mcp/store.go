package mcp

import (
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/service"
)

// Source is the data the MCP tools can read.
type Source interface {
	// Tiers returns the served tiers.
	Tiers() []cache.Tier

	// Get returns the current snapshot of a tier.
	Get(tier cache.Tier, forceRefresh bool) (*cache.Snapshot, bool, error)

	// Diagnostics returns the runtime state.
	Diagnostics() service.Diagnostics
}
