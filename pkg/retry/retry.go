// Package retry runs an operation repeatedly until it succeeds or an
// attempt budget is spent, sleeping between attempts according to a
// Backoff schedule. The hot-cache connector is the main consumer;
// everything else in mantle either surfaces errors to the caller or
// logs and continues.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff describes the attempt budget and sleep schedule for Do. The
// zero value runs the operation once with no sleeping.
type Backoff struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 run the operation once.
	Attempts int
	// Delay is the sleep before the second attempt.
	Delay time.Duration
	// MaxDelay caps the sleep between attempts. Zero means uncapped.
	MaxDelay time.Duration
	// Factor scales the delay after every failed attempt. Values below
	// 1 are treated as 1, giving a constant delay.
	Factor float64
	// Jitter randomizes each sleep within [delay/2, delay] so
	// simultaneous reconnects spread out instead of stampeding.
	Jitter bool
}

// Fixed sleeps the same delay between every attempt.
func Fixed(attempts int, delay time.Duration) Backoff {
	return Backoff{Attempts: attempts, Delay: delay}
}

// Exponential doubles the delay after each failure, starting at initial
// and capped at max, with jitter.
func Exponential(attempts int, initial, max time.Duration) Backoff {
	return Backoff{
		Attempts: attempts,
		Delay:    initial,
		MaxDelay: max,
		Factor:   2,
		Jitter:   true,
	}
}

// sleep returns the wait after the given failed attempt, counted from 1.
func (b Backoff) sleep(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := b.Delay
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(d) * factor)
		if next < d {
			// Overflow. Any cap below this applies on the next check.
			next = 1 << 62
		}
		d = next
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			d = b.MaxDelay
			break
		}
	}
	if d <= 0 {
		return 0
	}

	if b.Jitter {
		half := d / 2
		d = half + rand.N(d-half+1)
	}
	return d
}

// Do runs fn until it returns nil, the attempt budget is spent, or ctx
// is done. Cancellation aborts both pending attempts and the sleeps
// between them. The returned error wraps fn's last error, so errors.Is
// and errors.As see through it.
func Do(ctx context.Context, b Backoff, fn func() error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: giving up before attempt %d: %w", attempt, err)
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		wait := b.sleep(attempt)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: cancelled waiting for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("retry: %d attempts exhausted: %w", attempts, lastErr)
}
