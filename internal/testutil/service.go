package testutil

import (
	"testing"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/orchestrator"
	"github.com/macrat/telecache/internal/service"
)

// Fixture is a Service with fakes behind it.
type Fixture struct {
	Service   *service.Service
	Store     *cache.Store
	Clock     *clock.FakeClock
	Governor  *governor.Governor
	Collector *FakeExtended
}

// NewService creates a Service over an in-memory store with the fast and standard tiers.
// The governor has no minimum delay, so refreshes do not wait for the fake clock.
func NewService(t testing.TB) *Fixture {
	t.Helper()

	clk := clock.Fake(Epoch)

	store, err := cache.New("", []cache.TierPolicy{
		{Name: cache.Fast, Threshold: cache.DefaultPolicies()[0].Threshold},
		{Name: cache.Standard, Threshold: cache.DefaultPolicies()[1].Threshold},
	}, cache.WithClock(clk))
	if err != nil {
		t.Fatalf("failed to create store: %s", err)
	}

	gcfg := governor.DefaultConfig()
	gcfg.MinDelay = 0
	gov := governor.New(gcfg, governor.WithClock(clk), governor.WithRand(func() float64 { return 0 }))

	fc := &FakeExtended{}

	var orchs []*orchestrator.Orchestrator
	for _, tier := range store.Tiers() {
		cfg := orchestrator.DefaultConfig(tier)
		cfg.BatchPause = 0
		orchs = append(orchs, orchestrator.New(cfg, store, fc, gov, orchestrator.WithClock(clk)))
	}

	svc := service.New(store, gov, orchs, service.WithClock(clk), service.WithResolver(fc))

	return &Fixture{
		Service:   svc,
		Store:     store,
		Clock:     clk,
		Governor:  gov,
		Collector: fc,
	}
}
