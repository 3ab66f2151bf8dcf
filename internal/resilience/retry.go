package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries transient failures of idempotent calls with
// exponential backoff. Writes must not go through this.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy: 3 attempts, 500ms base delay doubled per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Do runs fn up to MaxAttempts times. retryable decides whether a
// failure is worth another attempt; the last error is returned once the
// budget is exhausted. Context cancellation aborts the backoff sleep.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, retryable func(error) bool) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == attempts || retryable == nil || !retryable(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}

// RetryableStatus reports whether an HTTP status code is worth
// retrying: 429 and the 5xx class.
func RetryableStatus(code int) bool {
	return code == 429 || code >= 500
}
