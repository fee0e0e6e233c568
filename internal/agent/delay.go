package agent

import (
	"context"
	"time"
)

const (
	// jitterFraction is the +/- share of the delay that is randomized
	jitterFraction = 0.3
	// maxFailureShift caps the backoff multiplier after failed commands at 32x
	maxFailureShift = 5
	// maxFailureDelay caps the stretched delay
	maxFailureDelay = 5 * time.Minute
)

// baseDelay draws the mode's base delay. rnd returns a value in [0, 1).
// Stealth stretches the range to [2*min, 3*max).
func baseDelay(min, max time.Duration, stealth bool, rnd func() float64) time.Duration {
	if stealth {
		min, max = 2*min, 3*max
	}
	if max <= min {
		return min
	}
	return min + time.Duration(rnd()*float64(max-min))
}

// failureDelay stretches the base delay while sandbox commands keep failing.
// Each consecutive failure doubles the mode's max delay.
func failureDelay(base, maxDelay time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return base
	}
	d := maxDelay << min(failures, maxFailureShift)
	if d > maxFailureDelay {
		d = maxFailureDelay
	}
	if d < base {
		return base
	}
	return d
}

// finalDelay combines the base, throttle and rate delays. The largest wins,
// then jitter of +/-30% is applied and the result floored.
func finalDelay(base, throttleDelay, rateDelay time.Duration, rnd func() float64, floor time.Duration) time.Duration {
	d := base
	if throttleDelay > d {
		d = throttleDelay
	}
	if rateDelay > d {
		d = rateDelay
	}
	jitter := (rnd()*2 - 1) * jitterFraction * float64(d)
	d += time.Duration(jitter)
	if d < floor {
		d = floor
	}
	return d
}

// sleep waits for d or until ctx is done, returning ctx's error in that case
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
