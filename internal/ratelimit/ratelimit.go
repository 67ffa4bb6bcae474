// Package ratelimit caps the aggregate publish rate of the producer pool.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by all workers. The rate can be changed while workers
// are waiting on it.
type Limiter struct {
	lim atomic.Pointer[rate.Limiter]
}

// New creates a limiter allowing rps records per second with the given burst.
// A zero rps means no limit.
func New(rps float64, burst int) *Limiter {
	l := &Limiter{}
	l.lim.Store(newLimiter(rps, burst))
	return l
}

// Set reconfigures the limiter. A zero or negative rps removes the limit.
// A non-positive burst defaults to one second worth of tokens.
func (l *Limiter) Set(rps float64, burst int) {
	cur := l.lim.Load()
	// Token accounting is undefined while the limit is Inf, so start from a full bucket.
	if rps <= 0 || cur.Limit() == rate.Inf {
		l.lim.Store(newLimiter(rps, burst))
		return
	}
	cur.SetBurst(burstFor(rps, burst))
	cur.SetLimit(rate.Limit(rps))
}

// Unlimited reports whether no rate limit is configured.
func (l *Limiter) Unlimited() bool {
	return l.lim.Load().Limit() == rate.Inf
}

// Allow reports whether one record may be published now without waiting.
func (l *Limiter) Allow() bool {
	return l.lim.Load().Allow()
}

// Wait blocks until one record may be published or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.Unlimited() {
		return ctx.Err()
	}
	return l.lim.Load().Wait(ctx)
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), burstFor(rps, burst))
}

func burstFor(rps float64, burst int) int {
	if burst > 0 {
		return burst
	}
	if rps < 1 {
		return 1
	}
	return int(rps)
}
