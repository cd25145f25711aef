package engine

import (
	"context"
	"time"

	"github.com/tiltvault/vaultd/internal/domain"
)

// RetryPolicy bounds step retries. Delays double per attempt from Base up to
// Max. Only errors the taxonomy marks retryable are retried; everything else
// surfaces immediately.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 2 * time.Second, Max: 30 * time.Second}
}

// retry runs fn up to p.Attempts times with exponential backoff between
// retryable failures.
func retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	delay := p.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !domain.IsRetryable(err) || attempt >= p.Attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.Max {
			delay = p.Max
		}
	}
}
