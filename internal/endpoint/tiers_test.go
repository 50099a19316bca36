package endpoint_test

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/export"
	"github.com/macrat/telecache/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestTiersEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	testutil.Commit(t, f.Store, cache.Standard, testutil.Records("APM", 3)...)
	f.Clock.Advance(10 * time.Second)

	resp := do(t, srv.Client(), "GET", srv.URL+"/v1/tiers", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var tiers []struct {
		Tier        string     `json:"tier"`
		Initialized bool       `json:"initialized"`
		Timestamp   *time.Time `json:"timestamp"`
		AgeSeconds  float64    `json:"age_seconds"`
		Fresh       bool       `json:"fresh"`
		Records     int        `json:"records"`
		State       string     `json:"state"`
	}
	resp.decode(t, &tiers)

	require.Len(t, tiers, 2)

	assert.Equal(t, "fast", tiers[0].Tier)
	assert.False(t, tiers[0].Initialized)
	assert.Nil(t, tiers[0].Timestamp)

	assert.Equal(t, "standard", tiers[1].Tier)
	assert.True(t, tiers[1].Initialized)
	assert.True(t, tiers[1].Fresh)
	assert.Equal(t, 3, tiers[1].Records)
	assert.Equal(t, 10.0, tiers[1].AgeSeconds)
	assert.Equal(t, "idle", tiers[1].State)
}

func TestSnapshotEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	c := srv.Client()

	t.Run("uninitialized", func(t *testing.T) {
		resp := do(t, c, "GET", srv.URL+"/v1/tiers/standard/snapshot", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
		assert.JSONEq(t, `{"error":"uninitialized","message":"tier standard has no data yet"}`, resp.Body)
	})

	t.Run("unknown-tier", func(t *testing.T) {
		resp := do(t, c, "GET", srv.URL+"/v1/tiers/long/snapshot", nil)
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.JSONEq(t, `{"error":"unknown_tier","message":"long"}`, resp.Body)
	})

	testutil.Commit(t, f.Store, cache.Standard, testutil.Records("APM", 2)...)
	etag := f.Store.ETag(cache.Standard)

	t.Run("fresh", func(t *testing.T) {
		resp := do(t, c, "GET", srv.URL+"/v1/tiers/standard/snapshot", nil)
		require.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "true", resp.Header.Get("X-Cache-Fresh"))
		assert.Equal(t, etag, resp.Header.Get("ETag"))

		var snap cache.Snapshot
		resp.decode(t, &snap)
		assert.Equal(t, 2, snap.Count())
		assert.True(t, snap.Timestamp.Equal(testutil.Epoch))
	})

	t.Run("not-modified", func(t *testing.T) {
		resp := do(t, c, "GET", srv.URL+"/v1/tiers/standard/snapshot", http.Header{"If-None-Match": {etag}})
		assert.Equal(t, http.StatusNotModified, resp.Status)
		assert.Empty(t, resp.Body)
	})

	t.Run("stale", func(t *testing.T) {
		f.Clock.Advance(2 * time.Hour)

		resp := do(t, c, "GET", srv.URL+"/v1/tiers/standard/snapshot", nil)
		require.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "false", resp.Header.Get("X-Cache-Fresh"))
	})

	st, err := f.Store.Stats(cache.Standard)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(2), st.Misses)
}

func TestEntitiesEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	testutil.Commit(t, f.Store, cache.Standard, append(testutil.Records("APM", 2), testutil.Records("INFRA", 1)...)...)

	resp := do(t, srv.Client(), "GET", srv.URL+"/v1/tiers/standard/entities?domain=apm&jq=map(.id)", nil)
	require.Equal(t, http.StatusOK, resp.Status)

	var out struct {
		Tier   string   `json:"tier"`
		Fresh  bool     `json:"fresh"`
		Result []string `json:"result"`
	}
	resp.decode(t, &out)
	assert.Equal(t, "standard", out.Tier)
	assert.True(t, out.Fresh)
	assert.Equal(t, []string{"APM-aa", "APM-ab"}, out.Result)

	resp = do(t, srv.Client(), "GET", srv.URL+"/v1/tiers/standard/entities?jq=map(", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestExportEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	testutil.Commit(t, f.Store, cache.Standard, testutil.Records("APM", 3)...)

	resp := do(t, srv.Client(), "GET", srv.URL+"/v1/tiers/standard/export.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `attachment; filename="telecache_standard_20260401T090000Z.xlsx"`, resp.Header.Get("Content-Disposition"))

	x, err := excelize.OpenReader(bytes.NewReader([]byte(resp.Body)))
	require.NoError(t, err)
	defer x.Close()

	rows, err := x.GetRows(export.Sheet)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestRefreshEndpoint(t *testing.T) {
	srv, f := testutil.StartTestServer(t)

	resp := do(t, srv.Client(), "POST", srv.URL+"/v1/tiers/fast/refresh", nil)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.JSONEq(t, `{"tier":"fast","status":"accepted"}`, resp.Body)

	o, err := f.Service.Orchestrator(cache.Fast)
	require.NoError(t, err)
	assert.True(t, o.Forced())

	resp = do(t, srv.Client(), "GET", srv.URL+"/v1/tiers/fast/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Status)
}

func TestNotFound(t *testing.T) {
	srv, _ := testutil.StartTestServer(t)

	resp := do(t, srv.Client(), "GET", srv.URL+"/not-found", nil)
	assert.Equal(t, http.StatusNotFound, resp.Status)
}

func TestGzip(t *testing.T) {
	srv, f := testutil.StartTestServer(t)
	testutil.Commit(t, f.Store, cache.Standard, testutil.Records("APM", 50)...)

	tr := &http.Transport{DisableCompression: true}
	c := &http.Client{Transport: tr}
	defer tr.CloseIdleConnections()

	resp := do(t, c, "GET", srv.URL+"/v1/tiers/standard/snapshot", http.Header{"Accept-Encoding": {"gzip"}})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}
