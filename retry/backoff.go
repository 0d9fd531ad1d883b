package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = Initial * attempt.
type Linear struct {
	Initial time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial time.Duration) *Linear {
	return &Linear{Initial: initial}
}

// Delay returns Initial * attempt, saturating at the largest duration.
func (l *Linear) Delay(attempt int) time.Duration {
	return scale(l.Initial, float64(attempt))
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = Base * 2^(attempt-1).
type Exponential struct {
	Base time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base time.Duration) *Exponential {
	return &Exponential{Base: base}
}

// Delay returns Base * 2^(attempt-1).
func (e *Exponential) Delay(attempt int) time.Duration {
	return scale(e.Base, math.Pow(2, float64(attempt-1)))
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter
// ──────────────────────────────────────────────────

// ExponentialWithJitter perturbs an exponential base by a random factor.
// Delay = Base * 2^(attempt-1) * (1 ± Jitter), Jitter in [0, 1].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Base   time.Duration
	Jitter float64
}

// NewExponentialWithJitter creates an exponential backoff with ±jitter.
func NewExponentialWithJitter(base time.Duration, jitter float64) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Jitter: math.Min(math.Max(jitter, 0), 1)}
}

// Delay returns the exponential delay scaled by a factor drawn uniformly
// from [1-Jitter, 1+Jitter].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	factor := 1 + e.Jitter*(2*rand.Float64()-1) //nolint:gosec // jitter intentionally uses non-crypto rand
	return scale(e.Base, math.Pow(2, float64(attempt-1))*factor)
}

// scale multiplies d by f, saturating instead of overflowing.
func scale(d time.Duration, f float64) time.Duration {
	v := float64(d) * f
	if v >= math.MaxInt64 || math.IsInf(v, 1) {
		return time.Duration(math.MaxInt64)
	}
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return time.Duration(v)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff:
// ExponentialWithJitter with a 1s base and ±20% jitter.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 0.2)
}

// ParseStrategy builds a strategy by name, as used in configuration:
// "constant", "linear", "exponential", or "exponential_jitter".
func ParseStrategy(name string, base time.Duration, jitter float64) (Strategy, bool) {
	switch name {
	case "constant":
		return NewConstant(base), true
	case "linear":
		return NewLinear(base), true
	case "exponential":
		return NewExponential(base), true
	case "exponential_jitter", "":
		return NewExponentialWithJitter(base, jitter), true
	default:
		return nil, false
	}
}
