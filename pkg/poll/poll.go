// Package poll waits for external conditions by probing at a fixed interval.
package poll

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// ErrTimeout is returned when a bounded wait runs out of attempts.
var ErrTimeout = errors.Base("wait timed out")

// Probe reports whether the awaited condition holds
type Probe func(ctx context.Context) bool

// Until probes once and then retries up to retries more times, sleeping interval
// between attempts. It returns nil as soon as probe succeeds, ErrTimeout when
// the attempts are exhausted and the context error if ctx is cancelled.
func Until(ctx context.Context, interval time.Duration, retries int, probe Probe) error {
	attempts := retries + 1
	for i := 0; i < attempts; i++ {
		if probe(ctx) {
			return nil
		}

		if i == attempts-1 {
			break
		}

		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}

	return errors.Errorf("%w after %d attempts", ErrTimeout, attempts)
}

// Forever probes until the condition holds. There is no attempt
// limit; only cancelling ctx ends the wait early.
func Forever(ctx context.Context, interval time.Duration, probe Probe) error {
	for !probe(ctx) {
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.Errorf("waiting: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
