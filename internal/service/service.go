// Package service wires the cache store, the governor, and the orchestrators of every tier
// into the one object the serving layers talk to.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/invalidate"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/orchestrator"
	"github.com/macrat/telecache/internal/schedule"
	"go.uber.org/zap"
)

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithResolver lets invalidation by alert ID ask the upstream which record an alert belongs to.
func WithResolver(r collector.AlertResolver) Option {
	return func(s *Service) {
		s.resolver = r
	}
}

// Service is a running telecache instance.
type Service struct {
	store    *cache.Store
	governor *governor.Governor
	orchs    map[cache.Tier]*orchestrator.Orchestrator
	order    []cache.Tier
	engine   *invalidate.Engine
	resolver collector.AlertResolver
	clock    clock.Clock
	log      *zap.SugaredLogger
	started  time.Time
}

// New creates a Service. Every orchestrator must refresh a tier of store.
func New(store *cache.Store, g *governor.Governor, orchs []*orchestrator.Orchestrator, opts ...Option) *Service {
	s := &Service{
		store:    store,
		governor: g,
		orchs:    make(map[cache.Tier]*orchestrator.Orchestrator, len(orchs)),
		clock:    clock.Real(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.clock.Now()

	targets := make([]invalidate.Target, 0, len(orchs))
	for _, o := range orchs {
		s.orchs[o.Tier()] = o
		s.order = append(s.order, o.Tier())
		targets = append(targets, invalidate.Target{Tier: o.Tier(), Syncer: o})
	}

	engineOpts := []invalidate.Option{invalidate.WithLogger(s.log.Named("invalidate"))}
	if s.resolver != nil {
		engineOpts = append(engineOpts, invalidate.WithResolver(s.resolver))
	}
	s.engine = invalidate.New(store, targets, engineOpts...)

	return s
}

func (s *Service) Store() *cache.Store {
	return s.store
}

func (s *Service) Governor() *governor.Governor {
	return s.governor
}

// Tiers returns the tiers that have an orchestrator, in the order they were given.
func (s *Service) Tiers() []cache.Tier {
	return append([]cache.Tier(nil), s.order...)
}

func (s *Service) Orchestrator(tier cache.Tier) (*orchestrator.Orchestrator, error) {
	o, ok := s.orchs[tier]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cache.ErrUnknownTier, tier)
	}
	return o, nil
}

// Get returns the current snapshot of a tier without counting it as an access.
func (s *Service) Get(tier cache.Tier, forceRefresh bool) (*cache.Snapshot, bool, error) {
	return s.store.Get(tier, forceRefresh)
}

// Snapshot returns the current snapshot of a tier and its ETag, and records the access.
// A fresh snapshot counts as a cache hit.
func (s *Service) Snapshot(tier cache.Tier) (snap *cache.Snapshot, fresh bool, etag string, err error) {
	st := s.clock.Now()

	snap, fresh, err = s.store.Get(tier, false)
	if errors.Is(err, cache.ErrUnknownTier) {
		return nil, false, "", err
	}

	s.store.RecordAccess(tier, err == nil && fresh, s.clock.Now().Sub(st))

	if err != nil {
		return nil, false, "", err
	}
	return snap, fresh, s.store.ETag(tier), nil
}

// Trigger requests a full refresh of a tier on its next tick.
func (s *Service) Trigger(tier cache.Tier) error {
	o, err := s.Orchestrator(tier)
	if err != nil {
		return err
	}
	o.Trigger()
	return nil
}

// Invalidate marks records matched by c as stale in every tier.
func (s *Service) Invalidate(ctx context.Context, c invalidate.Criterion, opts invalidate.Options) (invalidate.Report, error) {
	return s.engine.Run(ctx, c, opts)
}

// Init initializes every tier. Tiers that fail to initialize are reported, and the others stay usable.
func (s *Service) Init(ctx context.Context) error {
	var errs []error
	for _, t := range s.order {
		if err := s.orchs[t].Init(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Refresh refreshes every tier once, regardless of freshness.
func (s *Service) Refresh(ctx context.Context) error {
	var errs []error
	for _, t := range s.order {
		if err := s.orchs[t].Refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Schedule registers the orchestrator of every tier on the runner.
// Tiers without an entry in schedules use schedule.DefaultSchedule.
func (s *Service) Schedule(r *schedule.Runner, schedules map[cache.Tier]schedule.Schedule) {
	for _, t := range s.order {
		sc, ok := schedules[t]
		if !ok {
			sc = schedule.DefaultSchedule
		}
		r.Add(sc, s.orchs[t])
		s.log.Infow("scheduled", "tier", t, "schedule", sc)
	}
}

// Errors reports the health of the cache disk.
func (s *Service) Errors() (healthy bool, messages []string) {
	return s.store.Errors()
}
