// Package governor implements the request governor that guards every call to the telemetry API.
//
// A Governor combines a rate limiter with a circuit breaker:
// Acquire must be called before each outbound call, and exactly one of
// ReportSuccess, ReportFailure, or ReportTimeout must be called after it.
// AcquireSlot ties the report to the granted request, so a late report from before
// the circuit opened does not count. Do wraps the whole sequence with a slot.
package governor

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/syncerr"
	"go.uber.org/zap"
)

// State is the circuit state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Governor) {
		g.clock = c
	}
}

// WithRand sets the jitter source. f must return a value in [0, 1).
func WithRand(f func() float64) Option {
	return func(g *Governor) {
		g.rand = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(g *Governor) {
		g.log = l
	}
}

// Governor is the shared rate limiter and circuit breaker of one upstream client.
// It is safe for concurrent use.
type Governor struct {
	cfg   Config
	clock clock.Clock
	rand  func() float64
	log   *zap.SugaredLogger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	rateLimits  int
	timeouts    int
	reopens     int
	lastRequest time.Time
	openedAt    time.Time
	cooldown    time.Duration
	lastOutcome syncerr.Outcome

	// probe is non-nil while a half-open probe is in flight. It is closed when the probe reports.
	probe chan struct{}

	// gen counts openings. Slots granted before the last opening no longer count.
	gen uint64
}

// New creates a Governor in CLOSED state.
func New(cfg Config, opts ...Option) *Governor {
	g := &Governor{
		cfg:   cfg.withDefaults(),
		clock: clock.Real(),
		rand:  rand.Float64,
		log:   logger.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Governor) Config() Config {
	return g.cfg
}

// Slot is one request granted by AcquireSlot.
// Exactly one of its Report methods, or Release, must be called.
type Slot struct {
	g     *Governor
	gen   uint64
	probe bool
}

// Acquire waits until the next request is allowed.
//
// It returns an error wrapping syncerr.ErrUnavailable without waiting if the circuit is open,
// or the context error if ctx is done while waiting.
// The outcome is reported with the Report methods of the Governor.
func (g *Governor) Acquire(ctx context.Context) error {
	_, err := g.AcquireSlot(ctx)
	return err
}

// AcquireSlot is Acquire that returns the granted slot.
// Reports through the slot are ignored once the circuit has opened since the slot was granted.
func (g *Governor) AcquireSlot(ctx context.Context) (Slot, error) {
	for {
		g.mu.Lock()
		now := g.clock.Now()

		if g.state == Open {
			if now.Sub(g.openedAt) < g.cooldown {
				retry := g.cooldown - now.Sub(g.openedAt)
				g.mu.Unlock()
				return Slot{}, syncerr.New(syncerr.ErrUnavailable, nil, "circuit is open, retry in %s", retry.Round(time.Second))
			}
			g.state = HalfOpen
			g.successes = 0
			g.log.Infow("circuit half-open", "cooldown", g.cooldown)
		}

		slot := Slot{g: g, gen: g.gen}

		// A half-open probe keeps only the minimum delay. Backoff and jitter apply while CLOSED.
		d := g.cfg.MinDelay
		if g.state == HalfOpen {
			if g.probe != nil {
				wait := g.probe
				g.mu.Unlock()

				select {
				case <-ctx.Done():
					return Slot{}, ctx.Err()
				case <-wait:
				}
				continue
			}
			g.probe = make(chan struct{})
			slot.probe = true
		} else {
			d = g.cfg.Backoff(g.failures)
			if g.failures > g.cfg.BackoffAfter && g.cfg.JitterRatio > 0 {
				d += time.Duration(g.rand() * g.cfg.JitterRatio * float64(d))
			}
		}

		next := now
		if !g.lastRequest.IsZero() {
			if at := g.lastRequest.Add(d); at.After(next) {
				next = at
			}
		}
		g.lastRequest = next
		g.mu.Unlock()

		if err := clock.Sleep(ctx, g.clock, next.Sub(now)); err != nil {
			slot.Release()
			return Slot{}, err
		}
		return slot, nil
	}
}

// current reports whether the slot belongs to the current circuit generation. The caller holds g.mu.
func (s Slot) current() bool {
	if s.gen != s.g.gen {
		s.g.log.Debugw("ignored report of a request granted before the circuit opened", "generation", s.gen)
		return false
	}
	return true
}

// ReportSuccess records that the call succeeded.
func (s Slot) ReportSuccess() {
	if s.g == nil {
		return
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.current() {
		s.g.successLocked(s.probe)
	}
}

// ReportFailure records that the call failed.
func (s Slot) ReportFailure(rateLimited bool) {
	if s.g == nil {
		return
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.current() {
		s.g.failureLocked(rateLimited)
	}
}

// ReportTimeout records that the call exceeded its deadline.
func (s Slot) ReportTimeout() {
	if s.g == nil {
		return
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.current() {
		s.g.timeoutLocked()
	}
}

// Release gives the slot back without an outcome, such as when the caller gave up.
func (s Slot) Release() {
	if s.g == nil || !s.probe {
		return
	}
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.gen == s.g.gen {
		s.g.releaseProbe()
	}
}

// ReportSuccess records a successful call.
func (g *Governor) ReportSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successLocked(true)
}

func (g *Governor) successLocked(probe bool) {
	g.lastOutcome = syncerr.Success
	g.failures = 0
	g.rateLimits = 0
	g.timeouts = 0

	if g.state != HalfOpen {
		return
	}

	g.successes++
	if probe {
		g.releaseProbe()
	}

	if g.successes >= g.cfg.SuccessThreshold {
		g.state = Closed
		g.successes = 0
		g.reopens = 0
		g.cooldown = 0
		g.log.Infow("circuit closed")
	}
}

// ReportFailure records a failed call. rateLimited distinguishes rate-limit responses from other failures.
func (g *Governor) ReportFailure(rateLimited bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failureLocked(rateLimited)
}

func (g *Governor) failureLocked(rateLimited bool) {
	if rateLimited {
		g.lastOutcome = syncerr.RateLimited
		g.rateLimits++
	} else {
		g.lastOutcome = syncerr.Transient
		g.rateLimits = 0
	}
	g.failLocked()
}

// ReportTimeout records a call that exceeded its deadline. It also grows the per-call timeout.
func (g *Governor) ReportTimeout() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeoutLocked()
}

func (g *Governor) timeoutLocked() {
	g.lastOutcome = syncerr.Timeout
	g.timeouts++
	g.rateLimits = 0
	g.failLocked()
}

func (g *Governor) failLocked() {
	g.failures++
	g.successes = 0

	switch g.state {
	case HalfOpen:
		g.openLocked("probe failed")
	case Closed:
		if g.failures >= g.cfg.MaxFailures {
			g.openLocked("too many consecutive failures")
		} else if g.rateLimits >= g.cfg.RateLimitTrip {
			g.openLocked("repeated rate limit")
		}
	}
}

func (g *Governor) openLocked(reason string) {
	g.state = Open
	g.gen++
	g.openedAt = g.clock.Now()
	g.cooldown = g.cfg.Cooldown(g.reopens)
	g.reopens++
	g.releaseProbe()

	g.log.Warnw("circuit opened",
		"reason", reason,
		"failures", g.failures,
		"rate_limits", g.rateLimits,
		"cooldown", g.cooldown,
	)
}

func (g *Governor) releaseProbe() {
	if g.probe != nil {
		close(g.probe)
		g.probe = nil
	}
}

// CallTimeout returns the current per-call timeout.
func (g *Governor) CallTimeout() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.Timeout(g.timeouts)
}

// Do runs fn as one governed call.
//
// It acquires a slot, runs fn with the per-call timeout, and reports the outcome exactly once.
// Malformed and empty results count as successful transport.
// A deadline hit by the per-call timeout is returned as syncerr.ErrTimeout.
func (g *Governor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	slot, err := g.AcquireSlot(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.CallTimeout())
	defer cancel()

	err = fn(callCtx)

	if err != nil && ctx.Err() != nil {
		// Cancelled by the caller, not by the upstream. Nothing to learn from it.
		slot.Release()
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, syncerr.ErrTimeout) {
		err = syncerr.New(syncerr.ErrTimeout, err, "call exceeded %s", g.CallTimeout())
	}

	switch syncerr.Classify(err) {
	case syncerr.Success, syncerr.Empty, syncerr.Malformed:
		slot.ReportSuccess()
	case syncerr.RateLimited:
		slot.ReportFailure(true)
	case syncerr.Timeout:
		slot.ReportTimeout()
	default:
		slot.ReportFailure(false)
	}

	return err
}
