// Package ratelimit guards the egress and ingress accept loops against a
// single noisy peer monopolizing connection setup. It is an enhancement
// beyond what SPEC_FULL.md mandates, not a replacement for it — a
// disabled limiter (rate 0) behaves exactly like the unthrottled source
// behavior.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates Accept loops.
type Limiter struct {
	l *rate.Limiter
}

// New returns a Limiter allowing burst connections immediately and
// ratePerSec new connections per second thereafter. ratePerSec <= 0
// disables limiting entirely.
func New(ratePerSec float64, burst int) *Limiter {
	if ratePerSec <= 0 {
		return &Limiter{l: nil}
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a connection slot is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.l == nil {
		return nil
	}
	return l.l.Wait(ctx)
}
