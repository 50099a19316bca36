package governor

import (
	"time"
)

// Health is a read-only view of the governor state.
type Health struct {
	State                 State         `json:"state"`
	ConsecutiveFailures   int           `json:"consecutive_failures"`
	ConsecutiveSuccesses  int           `json:"consecutive_successes"`
	ConsecutiveRateLimits int           `json:"consecutive_rate_limits"`
	ConsecutiveTimeouts   int           `json:"consecutive_timeouts"`
	LastRequest           time.Time     `json:"last_request,omitempty"`
	OpenedAt              time.Time     `json:"opened_at,omitempty"`
	Cooldown              time.Duration `json:"cooldown"`
	RetryIn               time.Duration `json:"retry_in"`
	CallTimeout           time.Duration `json:"call_timeout"`
	LastOutcome           string        `json:"last_outcome"`
	MaxFailures           int           `json:"max_failures"`
	SuccessThreshold      int           `json:"success_threshold"`
}

// Health returns a snapshot of the current state.
//
// The state is reported as HALF_OPEN once the cool-down elapsed, even before the next Acquire.
func (g *Governor) Health() Health {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := Health{
		State:                 g.state,
		ConsecutiveFailures:   g.failures,
		ConsecutiveSuccesses:  g.successes,
		ConsecutiveRateLimits: g.rateLimits,
		ConsecutiveTimeouts:   g.timeouts,
		LastRequest:           g.lastRequest,
		OpenedAt:              g.openedAt,
		Cooldown:              g.cooldown,
		CallTimeout:           g.cfg.Timeout(g.timeouts),
		LastOutcome:           g.lastOutcome.String(),
		MaxFailures:           g.cfg.MaxFailures,
		SuccessThreshold:      g.cfg.SuccessThreshold,
	}

	if g.state == Open {
		elapsed := g.clock.Now().Sub(g.openedAt)
		if elapsed >= g.cooldown {
			h.State = HalfOpen
		} else {
			h.RetryIn = g.cooldown - elapsed
		}
	}

	return h
}

// Healthy reports whether requests are currently allowed to go out.
func (h Health) Healthy() bool {
	return h.State != Open
}
