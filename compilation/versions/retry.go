package versions

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// RetryPolicy describes exponential backoff.
type RetryPolicy struct {
	// Attempts is the total number of tries, the first included.
	Attempts int
	// Delay is the wait before the first retry.
	Delay time.Duration
	// Factor multiplies the delay after each retry.
	Factor int
}

// DefaultRetryPolicy is used for release listings and installs.
var DefaultRetryPolicy = RetryPolicy{Attempts: 10, Delay: time.Second, Factor: 2}

// Retry calls fn until it succeeds, returns an error retryable rejects, or the attempts run out. onRetry, if given,
// is called before each wait. The last error is returned on exhaustion.
func Retry(
	ctx context.Context,
	policy RetryPolicy,
	fn func() error,
	retryable func(error) bool,
	onRetry func(attempt int, remaining int, delay time.Duration, err error),
) error {
	attempts := max(policy.Attempts, 1)
	factor := max(policy.Factor, 1)
	delay := policy.Delay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, attempts-attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WithStack(ctx.Err())
		case <-timer.C:
		}
		delay *= time.Duration(factor)
	}
	return err
}
