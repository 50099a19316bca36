// Package invalidate marks parts of cached snapshots as stale without discarding the rest.
package invalidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/syncerr"
	"github.com/macrat/telecache/internal/validity"
	"go.uber.org/zap"
)

// Syncer re-collects data for a tier.
type Syncer interface {
	// RefreshSubset fetches fresh data for the given records only.
	// It returns an error wrapping syncerr.ErrUnsupported if scoped collection is not possible.
	RefreshSubset(ctx context.Context, records []entity.Record) ([]entity.Record, error)

	// Trigger requests a full refresh on the next tick.
	Trigger()
}

// Target is a tier the engine invalidates, and the syncer that refreshes it.
type Target struct {
	Tier   cache.Tier
	Syncer Syncer
}

// Options controls one invalidation.
type Options struct {
	// Refresh re-collects the invalidated records right away.
	Refresh bool
}

// Report is the result of an invalidation.
type Report struct {
	Criterion Criterion          `json:"criterion"`
	RecordID  string             `json:"record_id,omitempty"`
	Affected  int                `json:"affected"`
	Tiers     map[cache.Tier]int `json:"tiers"`
	Refreshed int                `json:"refreshed"`

	// Fallback is "full" when a scoped refresh was not possible and a full refresh was triggered instead.
	Fallback string `json:"fallback,omitempty"`
}

// Option customizes an Engine.
type Option func(*Engine)

// WithResolver sets the resolver for alerts that do not appear in any snapshot.
func WithResolver(r collector.AlertResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// Engine is the invalidation engine.
type Engine struct {
	store    *cache.Store
	targets  []Target
	resolver collector.AlertResolver
	filter   validity.Filter
	log      *zap.SugaredLogger
}

// New creates an Engine over the given tiers.
func New(store *cache.Store, targets []Target, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		targets: targets,
		log:     logger.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.filter = validity.New(e.log)
	return e
}

// Invalidate marks the records selected by c as stale in every tier and returns how many were affected.
func (e *Engine) Invalidate(ctx context.Context, c Criterion, opts Options) (int, error) {
	r, err := e.Run(ctx, c, opts)
	return r.Affected, err
}

// Run is Invalidate with a detailed report.
func (e *Engine) Run(ctx context.Context, c Criterion, opts Options) (Report, error) {
	report := Report{Criterion: c, Tiers: map[cache.Tier]int{}}

	if c.Kind == ByAlertKind {
		id, err := e.resolveAlert(ctx, c.Value)
		if errors.Is(err, syncerr.ErrEmpty) {
			e.log.Debugw("alert is not related to any record", "alert", c.Value)
			return report, nil
		} else if err != nil {
			return report, err
		}
		report.RecordID = id
		c = ByRecord(id)
	}

	for _, t := range e.targets {
		n, refreshed, fallback, err := e.invalidateTier(ctx, t, c, opts)
		if n > 0 {
			report.Tiers[t.Tier] = n
			report.Affected += n
		}
		report.Refreshed += refreshed
		if fallback {
			report.Fallback = "full"
		}
		if err != nil {
			return report, fmt.Errorf("tier %s: %w", t.Tier, err)
		}
	}

	return report, nil
}

func (e *Engine) resolveAlert(ctx context.Context, alertID string) (string, error) {
	for _, t := range e.targets {
		snap, _, err := e.store.Get(t.Tier, false)
		if err != nil {
			continue
		}
		for _, rs := range snap.Domains {
			for _, r := range rs {
				if r.HasAlert(alertID) {
					return r.ID, nil
				}
			}
		}
	}

	if e.resolver == nil {
		return "", syncerr.New(syncerr.ErrEmpty, nil, "alert %s not found", alertID)
	}
	return e.resolver.ResolveAlert(ctx, alertID)
}

func (e *Engine) invalidateTier(ctx context.Context, t Target, c Criterion, opts Options) (affected, refreshed int, fallback bool, err error) {
	var matched []entity.Record
	backup, marked, err := e.update(t.Tier, func(cur *cache.Snapshot) *cache.Snapshot {
		matched = nil
		next := cur.Clone()
		for d, rs := range next.Domains {
			for i := range rs {
				if c.Match(rs[i]) {
					markStale(&next.Domains[d][i])
					matched = append(matched, cur.Domains[d][i])
				}
			}
		}
		if len(matched) == 0 {
			return nil
		}
		next.Metadata.Invalidated += len(matched)
		return next
	})
	if errors.Is(err, syncerr.ErrUninitialized) {
		// Nothing committed yet.
		return 0, 0, false, nil
	} else if err != nil {
		return 0, 0, false, fmt.Errorf("failed to save invalidated snapshot: %w", err)
	}
	if marked == nil {
		return 0, 0, false, nil
	}
	entity.SortByID(matched)

	e.log.Infow("invalidated records", "tier", t.Tier, "criterion", c.String(), "count", len(matched))

	if !opts.Refresh {
		return len(matched), 0, false, nil
	}

	if t.Syncer == nil {
		e.log.Warnw("tier has no syncer; records stay stale until the next refresh", "tier", t.Tier)
		return len(matched), 0, false, nil
	}

	fresh, err := t.Syncer.RefreshSubset(ctx, matched)
	if errors.Is(err, syncerr.ErrUnsupported) {
		e.log.Warnw("scoped refresh is not supported; falling back to a full refresh", "tier", t.Tier, "criterion", c.String())
		t.Syncer.Trigger()
		return len(matched), 0, true, nil
	} else if err != nil {
		// A refresh that committed in the meantime is newer than the backup, so it is kept.
		if _, rerr := e.store.CompareAndReplace(t.Tier, marked, backup); errors.Is(rerr, cache.ErrConflict) {
			e.log.Infow("snapshot was replaced during the scoped refresh; nothing to roll back", "tier", t.Tier)
		} else if rerr != nil {
			e.log.Errorw("failed to roll back invalidation", "tier", t.Tier, "error", rerr)
		} else {
			e.log.Warnw("scoped refresh failed; rolled back", "tier", t.Tier, "error", err)
		}
		return len(matched), 0, false, err
	}

	n, err := e.merge(t.Tier, fresh)
	return len(matched), n, false, err
}

// maxConflicts is how many times update reads the snapshot again after another writer replaced it.
const maxConflicts = 3

// update stores fn(current snapshot) as the snapshot of tier, unless fn returns nil.
// It starts over if the snapshot was replaced while fn was working on it.
// It returns the snapshot fn was applied to, and the stored result or nil.
func (e *Engine) update(tier cache.Tier, fn func(cur *cache.Snapshot) *cache.Snapshot) (before, after *cache.Snapshot, err error) {
	for attempt := 1; ; attempt++ {
		cur, _, err := e.store.Get(tier, false)
		if err != nil {
			return nil, nil, err
		}

		next := fn(cur)
		if next == nil {
			return cur, nil, nil
		}

		stored, err := e.store.CompareAndReplace(tier, cur, next)
		if errors.Is(err, cache.ErrConflict) && attempt < maxConflicts {
			e.log.Debugw("snapshot changed while updating; retrying", "tier", tier, "attempt", attempt)
			continue
		} else if err != nil {
			return nil, nil, err
		}
		return cur, stored, nil
	}
}

// merge puts the valid refreshed records in place of their stale copies.
func (e *Engine) merge(tier cache.Tier, fresh []entity.Record) (int, error) {
	valid, _ := e.filter.FilterValid(fresh)
	if len(valid) == 0 {
		return 0, nil
	}

	byID := make(map[string]entity.Record, len(valid))
	for _, r := range valid {
		byID[r.ID] = r
	}

	n := 0
	_, _, err := e.update(tier, func(cur *cache.Snapshot) *cache.Snapshot {
		n = 0
		next := cur.Clone()
		for d, rs := range next.Domains {
			for i := range rs {
				if r, ok := byID[rs[i].ID]; ok {
					r.Stale = false
					next.Domains[d][i] = r
					n++
				}
			}
		}
		if n == 0 {
			return nil
		}
		return next
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save refreshed records: %w", err)
	}
	return n, nil
}

func markStale(r *entity.Record) {
	for label := range r.Windows {
		r.Windows[label] = entity.Measurements{}
	}
	r.ValidUntil = time.Time{}
	r.Stale = true
}
