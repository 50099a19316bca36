// Package clock provides an injectable time source.
//
// Components that decide on elapsed time (the governor's backoff, the cache's
// staleness, the orchestrator's batch pauses) take a Clock instead of calling
// the time package, so tests can drive them with Fake.
package clock

import (
	"context"
	"time"
)

// Clock abstracts the time operations telecache needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after d.
	// If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time
}

// Sleep waits for d on c, or until ctx is done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

type realClock struct{}

// Real returns the Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
