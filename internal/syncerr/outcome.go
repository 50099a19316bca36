package syncerr

import (
	"context"
	"errors"
)

// Outcome is the result kind of a single call to the upstream API.
// The governor and the orchestrator branch on it instead of parsing error messages.
type Outcome int

const (
	Success Outcome = iota
	Empty
	RateLimited
	Transient
	Timeout
	Fatal
	Malformed
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Empty:
		return "empty"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Timeout:
		return "timeout"
	case Fatal:
		return "fatal"
	case Malformed:
		return "malformed"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome counts against the upstream's health.
func (o Outcome) Failed() bool {
	switch o {
	case RateLimited, Transient, Timeout, Fatal:
		return true
	default:
		return false
	}
}

// Classify maps an error to an Outcome.
// Errors without a known kind are treated as transient.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrUnavailable):
		return Unavailable
	case errors.Is(err, ErrRateLimited):
		return RateLimited
	case errors.Is(err, ErrFatal):
		return Fatal
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, ErrMalformed):
		return Malformed
	case errors.Is(err, ErrEmpty):
		return Empty
	default:
		return Transient
	}
}
