// Package clock abstracts wall-clock time so schedulers and workers can be
// driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock provides the current time and absolute-deadline sleeping.
type Clock interface {
	Now() time.Time
	// SleepUntil blocks until the wall clock reaches target or ctx is
	// cancelled. The sleep is absolute: early wakeups re-arm against the
	// current wall clock rather than accumulating relative delays, so the
	// deadline survives suspend/resume. Returns ctx.Err() on cancellation.
	SleepUntil(ctx context.Context, target time.Time) error
}

// Real implements Clock using the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) SleepUntil(ctx context.Context, target time.Time) error {
	for {
		remaining := time.Until(target)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check against the wall clock; a timer can fire short of
			// the absolute target after a suspend/resume cycle.
		}
	}
}
