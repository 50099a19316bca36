package collector

import (
	"context"
	"net/url"

	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/syncerr"
)

// Extended is the HTTP collector that also fetches detailed metrics and resolves alerts.
type Extended struct {
	*Basic
}

// NewExtended creates an Extended collector.
func NewExtended(cfg Config) (*Extended, error) {
	b, err := NewBasic(cfg)
	if err != nil {
		return nil, err
	}
	return &Extended{Basic: b}, nil
}

// FetchDetailedMetrics implements DetailFetcher.
func (c *Extended) FetchDetailedMetrics(ctx context.Context, recordID, domain string) (map[string]entity.Measurements, error) {
	var resp struct {
		Windows map[string]map[string]any `json:"windows"`
	}

	path := "/entities/" + url.PathEscape(recordID) + "/metrics"
	if err := c.get(ctx, path, url.Values{"domain": {domain}}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Windows) == 0 {
		return nil, syncerr.New(syncerr.ErrEmpty, nil, "%s: no windows", path)
	}

	ws := make(map[string]entity.Measurements, len(resp.Windows))
	for label, ms := range resp.Windows {
		ws[label] = entity.Measurements(ms)
	}
	return ws, nil
}

// ResolveAlert implements AlertResolver.
func (c *Extended) ResolveAlert(ctx context.Context, alertID string) (string, error) {
	var resp struct {
		EntityID string `json:"entity_id"`
	}

	path := "/alerts/" + url.PathEscape(alertID)
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return "", err
	}

	if resp.EntityID == "" {
		return "", syncerr.New(syncerr.ErrEmpty, nil, "%s: alert is not related to any entity", path)
	}
	return resp.EntityID, nil
}
