package queue

import (
	"time"
)

// Strategy selects how retry delays grow with attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
)

// RetryPolicy computes the delay before a failed task becomes due again.
// Exponential doubles from Initial per prior attempt; linear grows by
// Initial per attempt. Both are bounded by Cap.
type RetryPolicy struct {
	Strategy Strategy
	Initial  time.Duration
	Cap      time.Duration
}

// DefaultRetryPolicy matches the scheduler defaults: exponential, 1s
// initial, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy: StrategyExponential,
		Initial:  time.Second,
		Cap:      30 * time.Second,
	}
}

// Delay returns the backoff before retry number `attempts` (the task's
// attempts counter after the failed lease). The first retry (attempts=1)
// waits Initial; the n-th waits Initial*2^(n-1) capped, or Initial*n for
// linear.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}

	var d time.Duration
	switch p.Strategy {
	case StrategyLinear:
		d = initial * time.Duration(attempts)
	default:
		// Guard the shift; beyond 62 doublings everything is capped anyway.
		shift := attempts - 1
		if shift > 30 {
			return cap
		}
		d = initial * time.Duration(int64(1)<<shift)
	}
	if d > cap {
		d = cap
	}
	return d
}
