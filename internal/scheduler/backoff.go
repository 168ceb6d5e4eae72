package scheduler

import "time"

const (
	retryBaseDelay = 5 * time.Minute
	retryMaxDelay  = time.Hour
)

// RetryDelay returns the backoff before the next attempt after the
// given number of completed attempts: base * 2^attempt, capped.
// Attempts 0, 1, 2 yield 5, 10, 20 minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^attempt overflows long before the cap stops mattering.
	if attempt > 10 {
		return retryMaxDelay
	}
	delay := retryBaseDelay << uint(attempt)
	if delay > retryMaxDelay {
		return retryMaxDelay
	}
	return delay
}
