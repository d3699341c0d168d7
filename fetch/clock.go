package fetch

import (
	"context"
	"time"
)

// Clock abstracts the timers Fetcher arms so tests can observe them.
type Clock interface {
	Now() time.Time
	// AfterFunc arms a one-shot timer calling f after d.
	AfterFunc(d time.Duration, f func()) Timer
	// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop reports whether the call stopped the timer before it fired.
	Stop() bool
}

type systemClock struct{}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
