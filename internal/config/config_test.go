package config_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/config"
	"github.com/macrat/telecache/internal/syncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %s", err)
	}

	if diff := cmp.Diff([]cache.Tier{cache.Standard}, cfg.EnabledTiers()); diff != "" {
		t.Errorf("unexpected tiers:\n%s", diff)
	}

	ps := cfg.Policies()
	require.Len(t, ps, 1)
	assert.Equal(t, time.Hour, ps[0].Threshold)
	assert.Equal(t, "cache_standard.json", ps[0].Path)
}

func TestLoad_yaml(t *testing.T) {
	path := writeConfig(t, "telecache.yaml", `
server:
  listen: 127.0.0.1:8080
cache:
  dir: /var/cache/telecache
  tiers:
    fast:
      threshold: 10s
      check: 5s
    standard: {}
    long:
      enabled: false
governor:
  max_failures: 5
  cooldown: 45
sync:
  batch_size: 2
  batch_pause: 500ms
collector:
  kind: extended
  base_url: https://api.example.com
  timeout: 1m
publish:
  kafka:
    brokers: [localhost:9092]
    topic: telecache
log:
  level: debug
  json: true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
	assert.Equal(t, "/var/cache/telecache", cfg.Cache.Dir)
	assert.Equal(t, []cache.Tier{cache.Fast, cache.Standard}, cfg.EnabledTiers())

	ps := cfg.Policies()
	require.Len(t, ps, 2)
	assert.Equal(t, 10*time.Second, ps[0].Threshold)
	assert.Equal(t, time.Hour, ps[1].Threshold, "threshold should fall back to the tier default")

	s, err := cfg.Schedule(cache.Fast)
	require.NoError(t, err)
	assert.Equal(t, "5s", s.String())

	s, err = cfg.Schedule(cache.Standard)
	require.NoError(t, err)
	assert.Equal(t, "1m0s", s.String())

	g := cfg.GovernorConfig()
	assert.Equal(t, 5, g.MaxFailures)
	assert.Equal(t, 45*time.Second, g.CooldownBase)
	assert.Equal(t, 3, g.RateLimitTrip, "unset values should keep the defaults")

	o := cfg.OrchestratorConfig(cache.Fast)
	assert.Equal(t, cache.Fast, o.Tier)
	assert.Equal(t, 2, o.BatchSize)
	assert.Equal(t, 500*time.Millisecond, o.BatchPause)
	assert.Equal(t, 3, o.InitAttempts)

	c := cfg.CollectorConfig()
	assert.Equal(t, "https://api.example.com", c.BaseURL)
	assert.Equal(t, time.Minute, c.Timeout)
	assert.Equal(t, collector.KindExtended, cfg.CollectorKind(cache.Fast))

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_jsonc(t *testing.T) {
	path := writeConfig(t, "telecache.jsonc", `{
		// only the long tier
		"cache": {
			"tiers": {
				"long": {"threshold": "12h", "check": "@hourly", "collector": "basic"},
			},
		},
		"collector": {"kind": "extended", "timeout": 15},
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, []cache.Tier{cache.Long}, cfg.EnabledTiers())
	assert.Equal(t, 12*time.Hour, cfg.Policies()[0].Threshold)
	assert.Equal(t, collector.KindBasic, cfg.CollectorKind(cache.Long))
	assert.Equal(t, 15*time.Second, cfg.CollectorConfig().Timeout)
}

func TestLoad_tokenEnv(t *testing.T) {
	t.Setenv(config.TokenEnv, "from-env")

	path := writeConfig(t, "telecache.yml", "collector:\n  token: from-file\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Collector.Token)
}

func TestLoad_errors(t *testing.T) {
	tests := []struct {
		Name    string
		File    string
		Content string
		Invalid bool
	}{
		{"unknown-extension", "config.toml", "", false},
		{"broken-yaml", "config.yaml", "cache: [", false},
		{"broken-duration", "config.yaml", "sync:\n  batch_pause: soon\n", false},
		{"unknown-tier", "config.yaml", "cache:\n  tiers:\n    weekly: {}\n", true},
		{"all-disabled", "config.yaml", "cache:\n  tiers:\n    standard: {enabled: false}\n", true},
		{"bad-schedule", "config.yaml", "cache:\n  tiers:\n    fast: {check: \"every now and then\"}\n", true},
		{"bad-kind", "config.yaml", "collector:\n  kind: grpc\n", true},
		{"bad-url", "config.yaml", "collector:\n  base_url: ftp://example.com\n", true},
		{"kafka-without-topic", "config.yaml", "publish:\n  kafka:\n    brokers: [localhost:9092]\n", true},
		{"bad-user", "config.yaml", "server:\n  user: admin\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			path := writeConfig(t, tt.File, tt.Content)

			_, err := config.Load(path)
			if err == nil {
				t.Fatalf("expected error")
			}
			if errors.Is(err, syncerr.ErrInvalidConfig) != tt.Invalid {
				t.Errorf("unexpected error kind: %s", err)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_collectsAll(t *testing.T) {
	cfg := config.Default()
	cfg.Collector.Kind = "grpc"
	cfg.Sync.BatchSize = -1

	err := cfg.Validate()
	require.Error(t, err)

	list, ok := syncerr.AsList(fmt.Errorf("config.yaml: %w", err))
	require.True(t, ok)
	assert.Len(t, list.Children, 2)
}
