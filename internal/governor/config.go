package governor

import (
	"math"
	"time"
)

// Config holds the thresholds of a Governor.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int

	// RateLimitTrip is the number of consecutive rate-limit failures that opens the circuit immediately.
	RateLimitTrip int

	// SuccessThreshold is the number of consecutive successes in half-open state that closes the circuit.
	SuccessThreshold int

	BackoffBase        float64
	BackoffAfter       int
	BackoffExponentCap int

	MinDelay    time.Duration
	MaxDelay    time.Duration
	JitterRatio float64

	CooldownBase time.Duration
	CooldownMax  time.Duration

	CallTimeout    time.Duration
	CallTimeoutMax time.Duration
	TimeoutGrowth  float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFailures:        10,
		RateLimitTrip:      3,
		SuccessThreshold:   3,
		BackoffBase:        2,
		BackoffAfter:       3,
		BackoffExponentCap: 8,
		MinDelay:           time.Second,
		MaxDelay:           60 * time.Second,
		JitterRatio:        0.1,
		CooldownBase:       30 * time.Second,
		CooldownMax:        10 * time.Minute,
		CallTimeout:        30 * time.Second,
		CallTimeoutMax:     2 * time.Minute,
		TimeoutGrowth:      1.5,
	}
}

// withDefaults fills zero fields with the default values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxFailures <= 0 {
		c.MaxFailures = d.MaxFailures
	}
	if c.RateLimitTrip <= 0 {
		c.RateLimitTrip = d.RateLimitTrip
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.BackoffBase <= 1 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffAfter <= 0 {
		c.BackoffAfter = d.BackoffAfter
	}
	if c.BackoffExponentCap <= 0 {
		c.BackoffExponentCap = d.BackoffExponentCap
	}
	if c.MinDelay < 0 {
		c.MinDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JitterRatio < 0 {
		c.JitterRatio = 0
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = d.CooldownBase
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = d.CooldownMax
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.CallTimeoutMax < c.CallTimeout {
		c.CallTimeoutMax = c.CallTimeout
	}
	if c.TimeoutGrowth < 1 {
		c.TimeoutGrowth = d.TimeoutGrowth
	}

	return c
}

// Backoff returns the delay before the next request after the given number of consecutive failures, without jitter.
func (c Config) Backoff(failures int) time.Duration {
	if failures <= c.BackoffAfter {
		return c.MinDelay
	}

	exp := failures
	if exp > c.BackoffExponentCap {
		exp = c.BackoffExponentCap
	}

	d := time.Duration(math.Pow(c.BackoffBase, float64(exp)) * float64(time.Second))
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	if d < c.MinDelay {
		d = c.MinDelay
	}
	return d
}

// Cooldown returns the open duration after the circuit was opened reopens times in a row.
func (c Config) Cooldown(reopens int) time.Duration {
	d := c.CooldownBase
	for i := 0; i < reopens; i++ {
		d *= 2
		if d >= c.CooldownMax {
			return c.CooldownMax
		}
	}
	if d > c.CooldownMax {
		d = c.CooldownMax
	}
	return d
}

// Timeout returns the per-call timeout after the given number of consecutive timeouts.
func (c Config) Timeout(timeouts int) time.Duration {
	d := float64(c.CallTimeout)
	for i := 0; i < timeouts; i++ {
		d *= c.TimeoutGrowth
		if d >= float64(c.CallTimeoutMax) {
			return c.CallTimeoutMax
		}
	}
	return time.Duration(d)
}
