// Package retry decides what happens after a failed attempt: retry after
// a backoff delay, or give up. Policies are pure functions of the attempt
// count and the error and are safe for concurrent use.
package retry

import (
	"errors"
	"time"
)

// Decision is the outcome of [Policy.Decide].
type Decision struct {
	// Retry is true when the item should return to pending.
	Retry bool
	// Delay is how long to wait before the next claim. Only meaningful
	// when Retry is true; always within [0, MaxDelay].
	Delay time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Policy maps (attempts, maxAttempts, error) to a Decision.
type Policy struct {
	// Strategy computes the raw delay for a retry attempt.
	Strategy Strategy
	// MaxDelay caps every delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy returns DefaultStrategy capped at one minute.
func DefaultPolicy() Policy {
	return Policy{Strategy: DefaultStrategy(), MaxDelay: time.Minute}
}

// Decide returns Retry with a delay while attempts < maxAttempts and the
// error is not permanent, otherwise GiveUp. attempts is the number of
// attempts made so far, including the one that just failed.
func (p Policy) Decide(attempts, maxAttempts int, err error) Decision {
	if IsPermanent(err) || attempts >= maxAttempts {
		return GiveUp
	}
	return Decision{Retry: true, Delay: p.Delay(attempts)}
}

// Delay returns the clamped delay before retry attempt n.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Strategy == nil {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := p.Strategy.Delay(attempt)
	if d < 0 {
		d = 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// PermanentError marks an error as non-retriable.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the policy gives up immediately. The message is
// preserved verbatim.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is or wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
