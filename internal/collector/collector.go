// Package collector talks to the upstream telemetry API.
//
// Every implementation returns errors tagged with syncerr kinds,
// so that the governor can classify them without knowing about HTTP.
package collector

import (
	"context"
	"fmt"

	"github.com/macrat/telecache/internal/entity"
)

// Collector fetches the full entity listing.
type Collector interface {
	FetchAllEntities(ctx context.Context) ([]entity.Record, error)
}

// DetailFetcher fetches detailed per-window measurements of one entity.
type DetailFetcher interface {
	FetchDetailedMetrics(ctx context.Context, recordID, domain string) (map[string]entity.Measurements, error)
}

// AlertResolver maps an alert to the entity that raised it.
type AlertResolver interface {
	ResolveAlert(ctx context.Context, alertID string) (string, error)
}

// Kind is the collector implementation name used in the configuration.
type Kind string

const (
	KindBasic    Kind = "basic"
	KindExtended Kind = "extended"
)

// New creates the HTTP collector of the given kind.
func New(kind Kind, cfg Config) (Collector, error) {
	switch kind {
	case KindBasic, "":
		return NewBasic(cfg)
	case KindExtended:
		return NewExtended(cfg)
	default:
		return nil, fmt.Errorf("unsupported collector kind: %q", kind)
	}
}
