package fetch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy is a capped exponential backoff without jitter.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff waits 1s, 2s, 4s, then 5s for every later retry.
var DefaultBackoff = BackoffPolicy{Base: time.Second, Max: 5 * time.Second}

// delay is the closed form of Schedule: the wait before attempt+1 is
// min(Base*2^attempt, Max).
func (p BackoffPolicy) delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for range attempt {
		if d >= p.Max {
			break
		}
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Schedule returns a fresh schedule yielding min(Base*2^i, Max) for i = 0, 1, ...
// It never returns backoff.Stop.
func (p BackoffPolicy) Schedule() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     min(p.Base, p.Max),
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
