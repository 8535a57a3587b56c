package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests. Sleepers are released in
// deadline order when Advance moves the clock past their targets.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	target time.Time
	ch     chan struct{}
}

// NewFake returns a Fake clock pinned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) SleepUntil(ctx context.Context, target time.Time) error {
	f.mu.Lock()
	if !f.now.Before(target) {
		f.mu.Unlock()
		return nil
	}
	w := &fakeWaiter{target: target, ch: make(chan struct{})}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		f.remove(w)
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// Advance moves the clock forward by d and releases every sleeper whose
// deadline has been reached, earliest deadline first.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due, rest []*fakeWaiter
	for _, w := range f.waiters {
		if !f.now.Before(w.target) {
			due = append(due, w)
		} else {
			rest = append(rest, w)
		}
	}
	f.waiters = rest
	sort.Slice(due, func(i, j int) bool { return due[i].target.Before(due[j].target) })
	f.mu.Unlock()

	for _, w := range due {
		close(w.ch)
	}
}

// Waiters reports how many sleepers are currently blocked.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

func (f *Fake) remove(target *fakeWaiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w == target {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}
