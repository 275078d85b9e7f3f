package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Policy decides when the next connection attempt may run. The delay comes
// from a backoff (constant by default) and is stretched, if needed, so that
// two attempts are never closer than the minimum interval.
type Policy struct {
	backoff backoff.BackOff
	limiter *rate.Limiter
}

// NewFixedPolicy retries after delay every time.
func NewFixedPolicy(delay, minInterval time.Duration) *Policy {
	return newPolicy(backoff.NewConstantBackOff(delay), minInterval)
}

// NewExponentialPolicy doubles the delay from initial up to max and resets
// once a session becomes active.
func NewExponentialPolicy(initial, maxDelay, minInterval time.Duration) *Policy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.Reset()
	return newPolicy(b, minInterval)
}

func newPolicy(b backoff.BackOff, minInterval time.Duration) *Policy {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Policy{backoff: b, limiter: rate.NewLimiter(limit, 1)}
}

// Admit reserves an attempt at now and returns how long it must wait.
func (p *Policy) Admit(now time.Time) time.Duration {
	return p.limiter.ReserveN(now, 1).DelayFrom(now)
}

// Next reserves the attempt that follows a failure at now and returns the
// delay until it.
func (p *Policy) Next(now time.Time) time.Duration {
	d := p.backoff.NextBackOff()
	if d < 0 {
		// backoff.Stop: never give up, fall back to the limiter alone.
		d = 0
	}
	at := now.Add(d)
	return d + p.limiter.ReserveN(at, 1).DelayFrom(at)
}

// Reset restarts the backoff sequence.
func (p *Policy) Reset() { p.backoff.Reset() }
