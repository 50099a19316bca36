package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/config"
	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/orchestrator"
	"github.com/macrat/telecache/internal/publish"
	"github.com/macrat/telecache/internal/service"
)

// Stack is a Service and the resources it owns.
type Stack struct {
	*service.Service

	publisher publish.Publisher
}

// Close releases the publishers and flushes the logger.
func (s *Stack) Close() error {
	err := s.publisher.Close()
	logger.Sync()
	return err
}

// OpenStore opens the cache directory with the policies of the enabled tiers.
func OpenStore(cfg config.Config) (*cache.Store, error) {
	s, err := cache.New(cfg.Cache.Dir, cfg.Policies(), cache.WithLogger(logger.Named("cache")))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache directory: %w", err)
	}
	return s, nil
}

// NewPublisher creates the publishers enabled in cfg. It returns publish.Nop if none is.
func NewPublisher(cfg config.Config) (publish.Publisher, error) {
	var ps publish.Multi

	if k := cfg.Publish.Kafka; len(k.Brokers) > 0 {
		p, err := publish.NewKafka(k.Brokers, k.Topic)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		ps = append(ps, p)
	}

	if r := cfg.Publish.Redis; r.URL != "" {
		thresholds := make(map[string]time.Duration)
		for _, p := range cfg.Policies() {
			thresholds[string(p.Name)] = p.Threshold
		}

		p, err := publish.NewRedis(r.URL, r.Channel, func(tier string) time.Duration {
			return thresholds[tier]
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("redis: %w", err), ps.Close())
		}
		ps = append(ps, p)
	}

	if len(ps) == 0 {
		return publish.Nop{}, nil
	}
	return ps, nil
}

// Build wires a collector and an orchestrator for every enabled tier into a Service.
// All tiers share one governor, because they all talk to the same upstream.
func Build(cfg config.Config) (*Stack, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	pub, err := NewPublisher(cfg)
	if err != nil {
		return nil, err
	}

	gov := governor.New(cfg.GovernorConfig(), governor.WithLogger(logger.Named("governor")))

	ccfg := cfg.CollectorConfig()
	ccfg.Logger = logger.Named("collector")

	var (
		orchs    []*orchestrator.Orchestrator
		resolver collector.AlertResolver
	)
	for _, tier := range cfg.EnabledTiers() {
		c, err := collector.New(cfg.CollectorKind(tier), ccfg)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("tier %s: %w", tier, err), pub.Close())
		}
		if r, ok := c.(collector.AlertResolver); ok && resolver == nil {
			resolver = r
		}

		orchs = append(orchs, orchestrator.New(
			cfg.OrchestratorConfig(tier),
			store,
			c,
			gov,
			orchestrator.WithLogger(logger.Named("orchestrator")),
			orchestrator.WithPublisher(pub),
		))
	}

	opts := []service.Option{service.WithLogger(logger.Named("service"))}
	if resolver != nil {
		opts = append(opts, service.WithResolver(resolver))
	}

	return &Stack{
		Service:   service.New(store, gov, orchs, opts...),
		publisher: pub,
	}, nil
}
