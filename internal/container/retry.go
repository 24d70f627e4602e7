// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"time"
)

// Backoff is an exponential retry policy for engine calls.
type Backoff struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// Base is the wait before the second call; each later wait doubles.
	Base time.Duration
	// Max caps a single wait. Zero means uncapped.
	Max time.Duration
	// Retryable decides whether a failure is worth another call.
	// Nil means IsTransientError.
	Retryable func(error) bool
}

// wait returns the pause before call number attempt (0-based).
func (b Backoff) wait(attempt int) time.Duration {
	if attempt == 0 {
		return 0
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && d >= b.Max {
			break
		}
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Retry calls op until it succeeds, fails permanently, or the attempts run out,
// in which case the last error is returned. Cancelling ctx interrupts a wait.
func (b Backoff) Retry(ctx context.Context, op func(context.Context) error) error {
	retryable := b.Retryable
	if retryable == nil {
		retryable = IsTransientError
	}
	attempts := max(b.Attempts, 1)

	var err error
	for attempt := range attempts {
		if d := b.wait(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempt(s): %w", attempt, ctx.Err())
			case <-timer.C:
			}
		}
		if err = op(ctx); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
