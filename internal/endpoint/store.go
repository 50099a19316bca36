package endpoint

import (
	"context"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/invalidate"
	"github.com/macrat/telecache/internal/mcp"
)

// Backend is what the endpoints serve. *service.Service implements it.
type Backend interface {
	mcp.Source

	// Snapshot returns the current snapshot of a tier and its ETag, and records the access.
	Snapshot(tier cache.Tier) (snap *cache.Snapshot, fresh bool, etag string, err error)

	// Trigger requests a full refresh of a tier.
	Trigger(tier cache.Tier) error

	// Invalidate marks the matched records stale.
	Invalidate(ctx context.Context, c invalidate.Criterion, opts invalidate.Options) (invalidate.Report, error)

	// Errors returns the health of the cache disk and the recent error messages.
	Errors() (healthy bool, messages []string)
}
