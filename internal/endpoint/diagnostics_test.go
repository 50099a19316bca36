package endpoint_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnosticsEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	f.Collector.SetEntities(testutil.Records("APM", 4)...)

	o, err := f.Service.Orchestrator(cache.Standard)
	require.NoError(t, err)
	require.NoError(t, o.Refresh(context.Background()))
	f.Clock.Advance(time.Minute)

	resp := do(t, srv.Client(), "GET", srv.URL+"/v1/diagnostics", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var d struct {
		Healthy  bool `json:"healthy"`
		Governor struct {
			State               string `json:"state"`
			ConsecutiveFailures int    `json:"consecutive_failures"`
		} `json:"governor"`
		Tiers []struct {
			Tier     string         `json:"tier"`
			Records  int            `json:"records"`
			Domains  map[string]int `json:"domains"`
			Quality  float64        `json:"quality"`
			LastSync *struct {
				Success bool `json:"success"`
				Valid   int  `json:"valid"`
			} `json:"last_sync"`
		} `json:"tiers"`
	}
	resp.decode(t, &d)

	assert.True(t, d.Healthy)
	assert.Equal(t, "CLOSED", d.Governor.State)
	require.Len(t, d.Tiers, 2)
	assert.Nil(t, d.Tiers[0].LastSync)
	assert.Equal(t, map[string]int{"APM": 4}, d.Tiers[1].Domains)
	assert.Equal(t, 100.0, d.Tiers[1].Quality)
	require.NotNil(t, d.Tiers[1].LastSync)
	assert.True(t, d.Tiers[1].LastSync.Success)
	assert.Equal(t, 4, d.Tiers[1].LastSync.Valid)
}

func TestDiagnosticsTextEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	testutil.Commit(t, f.Store, cache.Standard, testutil.Records("APM", 500)...)
	f.Clock.Advance(2 * time.Hour)

	resp := do(t, srv.Client(), "GET", srv.URL+"/v1/diagnostics.txt", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	assert.Contains(t, resp.Body, "HEALTHY")
	assert.Contains(t, resp.Body, "circuit CLOSED")
	assert.Contains(t, resp.Body, "[fast] threshold 30s, idle\n  no data yet\n")
	assert.Contains(t, resp.Body, "[standard] threshold 1h0m0s, idle\n  500 records, stale, updated 2 hours ago\n")
	assert.Contains(t, resp.Body, "    APM        500\n")
}
