package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited means the upstream API refused the call because of its rate limit.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable means the circuit is open and no call was attempted.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrFatal is an authentication or authorization failure. It is never retried.
	ErrFatal = errors.New("fatal upstream error")

	// ErrTransient is a network failure or a server side error.
	ErrTransient = errors.New("transient upstream error")

	// ErrTimeout means the call did not finish before its deadline.
	ErrTimeout = errors.New("upstream timeout")

	// ErrMalformed means the response could not be decoded.
	ErrMalformed = errors.New("malformed response")

	// ErrEmpty means there was nothing to read, either upstream or on disk.
	ErrEmpty = errors.New("empty result")

	// ErrUninitialized means no snapshot was ever committed for the tier.
	ErrUninitialized = errors.New("uninitialized")

	// ErrUnsupported means the collaborator does not implement the requested operation.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrInitFailed means the cache could not be populated at start up.
	ErrInitFailed = errors.New("initialization failed")

	// ErrInvalidConfig means the configuration file has invalid values.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Error is the error type of telecache.
//
// Please use errors.Is or errors.Unwrap if you want to know what kind of error is it.
type Error struct {
	kind    error
	from    error
	message string
}

// New creates a new Error.
func New(kind error, from error, format string, args ...interface{}) Error {
	msg := fmt.Sprintf(format, args...)
	if from != nil {
		if msg != "" {
			msg += ": "
		}
		msg += from.Error()
	}

	return Error{
		kind:    kind,
		from:    from,
		message: msg,
	}
}

// Error implements error interface.
func (e Error) Error() string {
	return e.message
}

// Unwrap implement for errors.Unwrap.
func (e Error) Unwrap() error {
	return e.from
}

// Is implement for errors.Is.
func (e Error) Is(err error) bool {
	return e.kind == err
}

// Kind returns the kind of this error.
func (e Error) Kind() error {
	return e.kind
}
