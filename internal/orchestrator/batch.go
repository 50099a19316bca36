package orchestrator

import (
	"context"

	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/collector"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/syncerr"
	"golang.org/x/sync/errgroup"
)

// BatchSize returns the concurrency used for n records.
func BatchSize(configured, n int) int {
	size := configured
	switch {
	case n > 500:
		size = min(size, 2)
	case n > 100:
		size = min(size, 3)
	}
	return max(size, 1)
}

// enrich fetches detailed metrics of every record in batches.
//
// Batches run in order; records in a batch run concurrently. A record whose fetch fails keeps its basic data,
// and its error is returned in errs at the same index.
// A circuit-open or fatal error aborts the whole cycle.
func (o *Orchestrator) enrich(ctx context.Context, df collector.DetailFetcher, rs []entity.Record) ([]entity.Record, []error, error) {
	out := make([]entity.Record, len(rs))
	copy(out, rs)
	errs := make([]error, len(rs))

	size := BatchSize(o.cfg.BatchSize, len(rs))

	for start := 0; start < len(rs); start += size {
		if start > 0 {
			if err := clock.Sleep(ctx, o.clock, o.cfg.BatchPause); err != nil {
				return nil, nil, err
			}
		}

		end := min(start+size, len(rs))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				r := out[i]

				var windows map[string]entity.Measurements
				err := o.governor.Do(gctx, func(ctx context.Context) error {
					var err error
					windows, err = df.FetchDetailedMetrics(ctx, r.ID, r.Domain)
					return err
				})

				switch syncerr.Classify(err) {
				case syncerr.Success:
					out[i] = mergeWindows(r, windows)
					return nil
				case syncerr.Unavailable, syncerr.Fatal:
					return err
				default:
					if gctx.Err() != nil {
						return gctx.Err()
					}
					errs[i] = err
					o.log.Debugw("kept basic data", "id", r.ID, "outcome", syncerr.Classify(err).String(), "error", err)
					return nil
				}
			})
		}

		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	return out, errs, nil
}

func mergeWindows(r entity.Record, detailed map[string]entity.Measurements) entity.Record {
	r = r.Clone()
	if r.Windows == nil {
		r.Windows = make(map[string]entity.Measurements, len(detailed))
	}

	for label, ms := range detailed {
		merged := r.Windows[label].Clone()
		if merged == nil {
			merged = make(entity.Measurements, len(ms))
		}
		for k, v := range ms {
			merged[k] = v
		}
		r.Windows[label] = merged
	}
	return r
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

// RefreshSubset re-collects the detailed metrics of the given records only.
//
// It returns the records whose fetch succeeded. If none succeeded, the first error is returned.
// Without a detail-capable collector it returns an error wrapping syncerr.ErrUnsupported.
func (o *Orchestrator) RefreshSubset(ctx context.Context, records []entity.Record) ([]entity.Record, error) {
	df, ok := o.collector.(collector.DetailFetcher)
	if !ok {
		return nil, syncerr.New(syncerr.ErrUnsupported, nil, "collector of tier %s cannot fetch single records", o.cfg.Tier)
	}
	if len(records) == 0 {
		return nil, nil
	}

	base := make([]entity.Record, len(records))
	for i, r := range records {
		base[i] = r.Clone()
		base[i].Windows = nil
		base[i].Stale = false
	}

	out, errs, err := o.enrich(ctx, df, base)
	if err != nil {
		return nil, err
	}

	policy, err := o.store.Policy(o.cfg.Tier)
	if err != nil {
		return nil, err
	}
	now := o.clock.Now()

	var refreshed []entity.Record
	var first error
	for i, r := range out {
		if errs[i] != nil {
			if first == nil {
				first = errs[i]
			}
			continue
		}
		r.FetchedAt = now
		r.ValidUntil = now.Add(policy.Threshold)
		refreshed = append(refreshed, r)
	}

	if len(refreshed) == 0 && first != nil {
		return nil, first
	}
	return refreshed, nil
}
