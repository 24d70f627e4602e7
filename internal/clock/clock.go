// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts the passage of time so timer-driven code (the
// authentication deadline and archive polling of a provisioning session) can
// be tested deterministically.
package clock

import (
	"context"
	"sync"
	"time"
)

// referenceTime is the starting point of a Fake created with a zero time.
var referenceTime = time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)

type (
	// Clock is the subset of the time package used by timer-driven code.
	Clock interface {
		// Now returns the current time.
		Now() time.Time
		// After delivers the current time once d has elapsed.
		After(d time.Duration) <-chan time.Time
		// Since returns the time elapsed since t.
		Since(t time.Time) time.Duration
	}

	// Real is the wall clock.
	Real struct{}

	// Fake only moves when Advance or Set is called. BlockUntil lets a test
	// wait for the code under test to arm its timers before moving time.
	Fake struct {
		mu      sync.Mutex
		now     time.Time
		pending []timer
	}

	timer struct {
		at time.Time
		ch chan time.Time
	}
)

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Since returns time.Since(t).
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

// NewFake returns a Fake set to start, or to a fixed reference time when start is zero.
func NewFake(start time.Time) *Fake {
	if start.IsZero() {
		start = referenceTime
	}
	return &Fake{now: start}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns the fake time elapsed since t.
func (f *Fake) Since(t time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Sub(t)
}

// After returns a channel that fires once the fake time reaches now+d.
// A non-positive d fires immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.pending = append(f.pending, timer{at: f.now.Add(d), ch: ch})
	return ch
}

// Advance moves the fake time forward by d and fires due timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fire()
}

// Set moves the fake time to t and fires due timers.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
	f.fire()
}

// Waiters returns the number of timers not yet fired.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// BlockUntil waits until at least n timers are pending or ctx is done.
func (f *Fake) BlockUntil(ctx context.Context, n int) error {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for f.Waiters() < n {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// fire delivers to every timer that is due. f.mu must be held.
func (f *Fake) fire() {
	keep := f.pending[:0]
	for _, t := range f.pending {
		if f.now.Before(t.at) {
			keep = append(keep, t)
			continue
		}
		t.ch <- f.now
	}
	f.pending = keep
}
