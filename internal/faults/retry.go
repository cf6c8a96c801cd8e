package faults

import (
	"context"
	"time"
)

// RetryOptions controls ExecuteWithRetry.
type RetryOptions struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryOptions matches the network policy: three retries spaced
// exponentially from one second.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ExecuteWithRetry invokes op, retrying while the classified error for the
// latest failure is retryable. The delay between attempts is multiplied by
// the backoff multiplier each time. The final classified error is returned
// when all attempts are exhausted.
func (c *Classifier) ExecuteWithRetry(ctx context.Context, opContext string, opts RetryOptions, op func(ctx context.Context) error) error {
	if opts.BackoffMultiplier <= 0 {
		opts.BackoffMultiplier = 2.0
	}

	delay := opts.InitialDelay
	var last *ClassifiedError

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		last = c.Classify(err, opContext)
		if !last.CanRetry || attempt >= opts.MaxRetries {
			return last
		}

		select {
		case <-ctx.Done():
			return c.Classify(ctx.Err(), opContext)
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * opts.BackoffMultiplier)
	}
}
