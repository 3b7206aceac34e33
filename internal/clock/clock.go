// Package clock abstracts wall-clock access so time-of-day gates and the
// monitoring loop can be driven deterministically in tests.
package clock

import "time"

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually advanced clock for tests. It is not safe for
// concurrent use; tests advance it from a single goroutine.
type Fake struct {
	Current time.Time
	waiters []waiter
}

type waiter struct {
	at time.Time
	ch chan time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{Current: start}
}

func (f *Fake) Now() time.Time { return f.Current }

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.waiters = append(f.waiters, waiter{at: f.Current.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires any expired After channels.
func (f *Fake) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.at.After(f.Current) {
			w.ch <- f.Current
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining
}
