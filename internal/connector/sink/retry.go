package sink

import (
	"context"
	"time"

	"go.flowcatalyst.tech/internal/connector"
)

// RetryPolicy is the exponential-backoff shape shared by the HTTP sink and
// the HTTP middleware, factored out of internal/router/mediator.go's
// executeWithRetry loop so both callers share one implementation instead of
// duplicating the attempt/backoff arithmetic.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseBackoff: time.Second}
}

// Do calls fn up to MaxRetries+1 times, sleeping BaseBackoff doubled per
// attempt (BaseBackoff, 2*BaseBackoff, 4*BaseBackoff, ...) between
// attempts, stopping early on success or on a non-retryable
// connector.Error. It returns the last error encountered.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !connector.IsRetryable(err) {
			return err
		}
		if attempt > p.MaxRetries {
			break
		}
		select {
		case <-time.After(time.Duration(1<<(attempt-1)) * p.BaseBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
