// Package config loads the telecache configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/orchestrator"
	"github.com/macrat/telecache/internal/schedule"
	"github.com/macrat/telecache/internal/syncerr"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// TokenEnv is the environment variable that overrides collector.token.
const TokenEnv = "TELECACHE_API_TOKEN"

type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Governor  GovernorConfig  `yaml:"governor" json:"governor"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	Collector CollectorConfig `yaml:"collector" json:"collector"`
	Publish   PublishConfig   `yaml:"publish" json:"publish"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`

	// User is "name:password" for HTTP basic authentication. Empty means no authentication.
	User string `yaml:"user" json:"user"`
}

type CacheConfig struct {
	Dir   string                `yaml:"dir" json:"dir"`
	Tiers map[string]TierConfig `yaml:"tiers" json:"tiers"`
}

type TierConfig struct {
	// Enabled defaults to true for every tier listed in the file.
	Enabled   *bool    `yaml:"enabled" json:"enabled"`
	Threshold Duration `yaml:"threshold" json:"threshold"`

	// Check is the tick schedule, an interval or a cron spec.
	Check string `yaml:"check" json:"check"`

	// Collector overrides collector.kind for this tier.
	Collector string `yaml:"collector" json:"collector"`
}

func (t TierConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

type GovernorConfig struct {
	MaxFailures      int      `yaml:"max_failures" json:"max_failures"`
	RateLimitTrip    int      `yaml:"rate_limit_trip" json:"rate_limit_trip"`
	SuccessThreshold int      `yaml:"success_threshold" json:"success_threshold"`
	BackoffBase      float64  `yaml:"backoff_base" json:"backoff_base"`
	MinDelay         Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay         Duration `yaml:"max_delay" json:"max_delay"`
	CooldownBase     Duration `yaml:"cooldown" json:"cooldown"`
	CooldownMax      Duration `yaml:"cooldown_max" json:"cooldown_max"`
	CallTimeout      Duration `yaml:"call_timeout" json:"call_timeout"`
	CallTimeoutMax   Duration `yaml:"call_timeout_max" json:"call_timeout_max"`
}

type SyncConfig struct {
	BatchSize    int      `yaml:"batch_size" json:"batch_size"`
	BatchPause   Duration `yaml:"batch_pause" json:"batch_pause"`
	InitAttempts int      `yaml:"init_attempts" json:"init_attempts"`
}

type CollectorConfig struct {
	Kind    string   `yaml:"kind" json:"kind"`
	BaseURL string   `yaml:"base_url" json:"base_url"`
	Token   string   `yaml:"token" json:"token"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

type PublishConfig struct {
	Kafka KafkaConfig `yaml:"kafka" json:"kafka"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type RedisConfig struct {
	URL     string `yaml:"url" json:"url"`
	Channel string `yaml:"channel" json:"channel"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	g := governor.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Listen: "0.0.0.0:9000",
		},
		Cache: CacheConfig{
			Dir: "./cache",
			Tiers: map[string]TierConfig{
				string(cache.Standard): {Threshold: Duration(time.Hour), Check: "1m"},
			},
		},
		Governor: GovernorConfig{
			MaxFailures:      g.MaxFailures,
			RateLimitTrip:    g.RateLimitTrip,
			SuccessThreshold: g.SuccessThreshold,
			BackoffBase:      g.BackoffBase,
			MinDelay:         Duration(g.MinDelay),
			MaxDelay:         Duration(g.MaxDelay),
			CooldownBase:     Duration(g.CooldownBase),
			CooldownMax:      Duration(g.CooldownMax),
			CallTimeout:      Duration(g.CallTimeout),
			CallTimeoutMax:   Duration(g.CallTimeoutMax),
		},
		Sync: SyncConfig{
			BatchSize:    5,
			BatchPause:   Duration(time.Second),
			InitAttempts: 3,
		},
		Collector: CollectorConfig{
			Kind:    string(collector.KindBasic),
			Timeout: Duration(30 * time.Second),
		},
		Publish: PublishConfig{
			Redis: RedisConfig{Channel: "telecache:commits"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML (.yaml, .yml) or JSON with comments (.json, .jsonc) file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cfg.decode(filepath.Ext(path), data); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	cfg.ApplyEnv()
	cfg.applyDefaults()

	return cfg, cfg.Validate()
}

func (c *Config) decode(ext string, data []byte) error {
	// The file replaces the default tiers instead of merging with them.
	c.Cache.Tiers = nil

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, c)
	case ".json", ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), c)
	default:
		return fmt.Errorf("unsupported config file type: %q", ext)
	}
}

// ApplyEnv applies the environment variables.
func (c *Config) ApplyEnv() {
	if token := os.Getenv(TokenEnv); token != "" {
		c.Collector.Token = token
	}
}

func (c *Config) applyDefaults() {
	if len(c.Cache.Tiers) == 0 {
		c.Cache.Tiers = Default().Cache.Tiers
	}

	for name, t := range c.Cache.Tiers {
		if t.Threshold == 0 {
			if p, err := cache.PolicyFor(cache.Tier(name), 0); err == nil {
				t.Threshold = Duration(p.Threshold)
			}
		}
		if t.Check == "" {
			t.Check = schedule.DefaultSchedule.String()
		}
		c.Cache.Tiers[name] = t
	}
}

// Validate checks every value and reports all problems at once.
func (c Config) Validate() error {
	lb := syncerr.ListBuilder{What: syncerr.ErrInvalidConfig}

	if len(c.EnabledTiers()) == 0 {
		lb.Pushf("cache: no tier is enabled")
	}

	for _, name := range c.tierNames() {
		t := c.Cache.Tiers[name]
		if _, err := cache.PolicyFor(cache.Tier(name), 0); err != nil {
			lb.Pushf("cache.tiers: %s", err)
			continue
		}
		if t.Threshold < 0 {
			lb.Pushf("tier %q: threshold must be positive", name)
		}
		if _, err := schedule.Parse(t.Check); err != nil {
			lb.Pushf("tier %q: invalid check schedule: %s", name, err)
		}
		if t.Collector != "" && !validKind(t.Collector) {
			lb.Pushf("tier %q: unsupported collector kind: %q", name, t.Collector)
		}
	}

	if !validKind(c.Collector.Kind) {
		lb.Pushf("collector: unsupported kind: %q", c.Collector.Kind)
	}
	if c.Collector.BaseURL != "" {
		if u, err := url.Parse(c.Collector.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			lb.Pushf("collector: invalid base_url: %q", c.Collector.BaseURL)
		}
	}

	if c.Governor.MaxFailures < 0 || c.Governor.SuccessThreshold < 0 || c.Governor.RateLimitTrip < 0 {
		lb.Pushf("governor: thresholds must not be negative")
	}
	if c.Governor.MaxDelay > 0 && c.Governor.MinDelay > c.Governor.MaxDelay {
		lb.Pushf("governor: min_delay must not be longer than max_delay")
	}

	if c.Sync.BatchSize < 0 {
		lb.Pushf("sync: batch_size must not be negative")
	}

	if len(c.Publish.Kafka.Brokers) > 0 && c.Publish.Kafka.Topic == "" {
		lb.Pushf("publish.kafka: topic is required")
	}

	if c.Server.User != "" && !strings.Contains(c.Server.User, ":") {
		lb.Pushf("server: user must be \"name:password\"")
	}

	return lb.Build()
}

func validKind(k string) bool {
	return k == "" || k == string(collector.KindBasic) || k == string(collector.KindExtended)
}

func (c Config) tierNames() []string {
	names := make([]string, 0, len(c.Cache.Tiers))
	for n := range c.Cache.Tiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EnabledTiers returns the enabled tier names ordered from the shortest threshold.
func (c Config) EnabledTiers() []cache.Tier {
	var ts []cache.Tier
	for _, p := range cache.DefaultPolicies() {
		if t, ok := c.Cache.Tiers[string(p.Name)]; ok && t.IsEnabled() {
			ts = append(ts, p.Name)
		}
	}
	return ts
}

// Policies returns the cache policies of the enabled tiers.
func (c Config) Policies() []cache.TierPolicy {
	var ps []cache.TierPolicy
	for _, name := range c.EnabledTiers() {
		p, err := cache.PolicyFor(name, c.Cache.Tiers[string(name)].Threshold.Std())
		if err == nil {
			ps = append(ps, p)
		}
	}
	return ps
}

// Schedule returns the tick schedule of a tier.
func (c Config) Schedule(tier cache.Tier) (schedule.Schedule, error) {
	return schedule.Parse(c.Cache.Tiers[string(tier)].Check)
}

// CollectorKind returns the collector implementation of a tier.
func (c Config) CollectorKind(tier cache.Tier) collector.Kind {
	if k := c.Cache.Tiers[string(tier)].Collector; k != "" {
		return collector.Kind(k)
	}
	return collector.Kind(c.Collector.Kind)
}

func (c Config) GovernorConfig() governor.Config {
	g := c.Governor
	cfg := governor.DefaultConfig()

	cfg.MaxFailures = g.MaxFailures
	cfg.RateLimitTrip = g.RateLimitTrip
	cfg.SuccessThreshold = g.SuccessThreshold
	cfg.BackoffBase = g.BackoffBase
	cfg.MinDelay = g.MinDelay.Std()
	cfg.MaxDelay = g.MaxDelay.Std()
	cfg.CooldownBase = g.CooldownBase.Std()
	cfg.CooldownMax = g.CooldownMax.Std()
	cfg.CallTimeout = g.CallTimeout.Std()
	cfg.CallTimeoutMax = g.CallTimeoutMax.Std()

	return cfg
}

func (c Config) OrchestratorConfig(tier cache.Tier) orchestrator.Config {
	return orchestrator.Config{
		Tier:         tier,
		BatchSize:    c.Sync.BatchSize,
		BatchPause:   c.Sync.BatchPause.Std(),
		InitAttempts: c.Sync.InitAttempts,
	}
}

func (c Config) CollectorConfig() collector.Config {
	return collector.Config{
		BaseURL: c.Collector.BaseURL,
		Token:   c.Collector.Token,
		Timeout: c.Collector.Timeout.Std(),
	}
}
