package txn

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// delayBackoff computes the wait before each retry. The accumulated delay
// starts at zero and grows by Interval()*attempts after every failure.
// A random point inside the next interval is chosen when MinDelay is below
// MaxDelay; equal bounds give exactly MinDelay; anything else gives no delay.
type delayBackoff struct {
	policy      RetryPolicy
	interval    time.Duration
	accumulated time.Duration
	attempts    int
	jitter      func(n int64) int64
}

func newDelayBackoff(p RetryPolicy, jitter func(n int64) int64) *delayBackoff {
	return &delayBackoff{
		policy:   p,
		interval: p.Interval(),
		jitter:   jitter,
	}
}

// Next is called after a failed attempt. It stops once MaxAttempts attempts
// have been made.
func (b *delayBackoff) Next() (time.Duration, bool) {
	b.attempts++
	if b.attempts >= b.policy.MaxAttempts {
		return 0, true
	}
	return b.delay(), false
}

func (b *delayBackoff) delay() time.Duration {
	b.accumulated += b.interval * time.Duration(b.attempts)
	switch {
	case b.policy.MinDelay < b.policy.MaxDelay:
		return b.accumulated + time.Duration(b.jitter(int64(b.interval)))
	case b.policy.MinDelay == b.policy.MaxDelay:
		return b.policy.MinDelay
	default:
		return 0
	}
}

var _ retry.Backoff = (*delayBackoff)(nil)
