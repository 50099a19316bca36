// Package orchestrator decides when a cache tier is refreshed and runs the refresh cycle.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/governor"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/publish"
	"github.com/macrat/telecache/internal/syncerr"
	"github.com/macrat/telecache/internal/validity"
	"go.uber.org/zap"
)

// ErrBusy is returned by Refresh while another cycle of the same tier is running.
var ErrBusy = errors.New("refresh already running")

// State is the state of an Orchestrator.
type State int32

const (
	Idle State = iota
	Deciding
	Refreshing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Deciding:
		return "deciding"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Config is the refresh setting of one tier.
type Config struct {
	Tier cache.Tier

	// BatchSize is the number of detail fetches run concurrently.
	// It is reduced automatically for large listings.
	BatchSize int

	// BatchPause is the pause between two batches.
	BatchPause time.Duration

	// InitAttempts is the number of refreshes Init tries before falling back to the backup.
	InitAttempts int

	// PublishTimeout bounds the best-effort publishing after a commit.
	PublishTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Tier == "" {
		c.Tier = cache.Standard
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = 3
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 10 * time.Second
	}
	return c
}

// DefaultConfig returns the default setting for tier.
func DefaultConfig(tier cache.Tier) Config {
	return Config{
		Tier:         tier,
		BatchSize:    5,
		BatchPause:   time.Second,
		InitAttempts: 3,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithPublisher sets where committed snapshots are announced.
func WithPublisher(p publish.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithIDGenerator replaces the sync id generator.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) {
		o.newID = f
	}
}

// Orchestrator keeps one cache tier up to date.
type Orchestrator struct {
	cfg       Config
	store     *cache.Store
	collector collector.Collector
	governor  *governor.Governor
	clock     clock.Clock
	log       *zap.SugaredLogger
	filter    validity.Filter
	publisher publish.Publisher
	newID     func() string

	state   atomic.Int32
	running sync.Mutex

	// requests counts Trigger calls. served is the count seen at the start of the last successful cycle.
	requests atomic.Uint64
	served   atomic.Uint64
}

// New creates an Orchestrator. The governor is shared by every orchestrator that calls the same upstream.
func New(cfg Config, store *cache.Store, c collector.Collector, g *governor.Governor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		store:     store,
		collector: c,
		governor:  g,
		clock:     clock.Real(),
		log:       logger.Nop(),
		publisher: publish.Nop{},
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("tier", o.cfg.Tier)
	o.filter = validity.New(o.log)
	return o
}

// Tier returns the tier this orchestrator refreshes.
func (o *Orchestrator) Tier() cache.Tier {
	return o.cfg.Tier
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Trigger makes the next Tick refresh regardless of freshness.
func (o *Orchestrator) Trigger() {
	o.requests.Add(1)
	o.log.Infow("refresh requested")
}

// Forced reports whether a refresh was requested and not yet done.
// A request made while a cycle is running is served by the next cycle.
func (o *Orchestrator) Forced() bool {
	return o.requests.Load() > o.served.Load()
}

// Run implements cron.Job.
func (o *Orchestrator) Run() {
	_ = o.Tick(context.Background())
}

// Tick refreshes the tier if its snapshot is absent, stale, or a refresh was requested.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(Idle), int32(Deciding)) {
		o.log.Debugw("skipped tick", "state", o.State())
		return nil
	}

	forced := o.Forced()
	_, fresh, err := o.store.Get(o.cfg.Tier, forced)

	if err == nil && fresh {
		o.state.Store(int32(Idle))
		return nil
	}

	reason := "stale"
	switch {
	case err != nil:
		reason = "absent"
	case forced:
		reason = "forced"
	}
	o.log.Debugw("refresh needed", "reason", reason)

	err = o.refresh(ctx)
	if errors.Is(err, ErrBusy) {
		o.state.CompareAndSwap(int32(Deciding), int32(Idle))
		return nil
	}
	return err
}

// Refresh runs one refresh cycle now.
// It returns ErrBusy if a cycle of this tier is already running.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	return o.refresh(ctx)
}

func (o *Orchestrator) refresh(ctx context.Context) error {
	if !o.running.TryLock() {
		o.log.Debugw("refresh already running")
		return ErrBusy
	}
	defer o.running.Unlock()

	requested := o.requests.Load()
	o.state.Store(int32(Refreshing))
	defer o.state.Store(int32(Idle))

	syncID := o.newID()
	started := o.clock.Now()
	l := o.log.With("sync_id", syncID)

	var rs []entity.Record
	err := o.governor.Do(ctx, func(ctx context.Context) error {
		var err error
		rs, err = o.collector.FetchAllEntities(ctx)
		return err
	})
	if err != nil {
		return o.fail(l, syncID, started, 0, 0, err)
	}
	fetchedAt := o.clock.Now()
	for i := range rs {
		rs[i].FetchedAt = fetchedAt
	}

	if df, ok := o.collector.(collector.DetailFetcher); ok && len(rs) > 0 {
		var errs []error
		rs, errs, err = o.enrich(ctx, df, rs)
		if err != nil {
			return o.fail(l, syncID, started, len(rs), 0, err)
		}
		if n := countErrors(errs); n > 0 {
			l.Infow("kept basic data for records without details", "count", n)
		}
	}

	valid, summary := o.filter.FilterValid(rs)

	policy, err := o.store.Policy(o.cfg.Tier)
	if err != nil {
		return o.fail(l, syncID, started, summary.Total, summary.Valid, err)
	}
	now := o.clock.Now()
	for i := range valid {
		valid[i].ValidUntil = now.Add(policy.Threshold)
		valid[i].Stale = false
	}

	snap := cache.NewSnapshot(valid, summary)
	snap.Metadata.SyncID = syncID

	if !o.store.Commit(o.cfg.Tier, snap) {
		return o.fail(l, syncID, started, summary.Total, summary.Valid, errors.New("failed to save snapshot"))
	}
	o.served.Store(requested)

	o.store.WriteStatus(cache.SyncStatus{
		Tier:      o.cfg.Tier,
		SyncID:    syncID,
		Success:   true,
		StartedAt: started,
		Duration:  o.clock.Now().Sub(started),
		Fetched:   summary.Total,
		Valid:     summary.Valid,
		Dropped:   summary.Dropped(),
	})

	l.Infow("refreshed",
		"fetched", summary.Total,
		"valid", summary.Valid,
		"quality", summary.String(),
		"duration", o.clock.Now().Sub(started),
	)

	o.publish(ctx, l)

	return nil
}

func (o *Orchestrator) publish(ctx context.Context, l *zap.SugaredLogger) {
	snap, _, err := o.store.Get(o.cfg.Tier, false)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	defer cancel()

	if err := o.publisher.Publish(ctx, publish.NewEvent(o.cfg.Tier, snap)); err != nil {
		l.Warnw("failed to publish snapshot", "error", err)
	}
}

func (o *Orchestrator) fail(l *zap.SugaredLogger, syncID string, started time.Time, fetched, valid int, err error) error {
	l.Warnw("refresh failed; keeping previous snapshot",
		"outcome", syncerr.Classify(err).String(),
		"error", err,
	)

	o.store.WriteStatus(cache.SyncStatus{
		Tier:      o.cfg.Tier,
		SyncID:    syncID,
		Success:   false,
		Error:     err.Error(),
		StartedAt: started,
		Duration:  o.clock.Now().Sub(started),
		Fetched:   fetched,
		Valid:     valid,
		Dropped:   fetched - valid,
	})

	return err
}

// Init makes sure the tier has a snapshot.
//
// It loads the file on disk; if there is none, it tries to refresh a few times,
// and then falls back to the compressed backup.
// If all of them fail it returns an error wrapping syncerr.ErrInitFailed.
func (o *Orchestrator) Init(ctx context.Context) error {
	if snap, err := o.store.Load(o.cfg.Tier); err == nil {
		o.log.Infow("loaded snapshot from disk", "records", snap.Count(), "timestamp", snap.Timestamp)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.InitAttempts; attempt++ {
		lastErr = o.Refresh(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.log.Warnw("initial refresh failed", "attempt", attempt, "of", o.cfg.InitAttempts, "error", lastErr)

		if syncerr.Classify(lastErr) == syncerr.Fatal {
			break
		}
	}

	if snap, err := o.store.LoadBackup(o.cfg.Tier); err == nil {
		o.log.Warnw("serving backup snapshot", "records", snap.Count(), "timestamp", snap.Timestamp)
		return nil
	}

	o.log.Errorw("failed to initialize tier", "error", lastErr)
	return syncerr.New(syncerr.ErrInitFailed, lastErr, "tier %s", o.cfg.Tier)
}
