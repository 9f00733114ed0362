package ssh

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls the exponential backoff applied to remote operations.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      uint64
}

// DefaultRetryPolicy retries transport failures five times, doubling the
// delay from one second up to a thirty second cap.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
	Multiplier:      2,
	MaxRetries:      5,
}

// WithRetry runs op under the policy. Only transport-class errors (see
// IsTransient) are retried; anything else fails immediately. notify, when
// non-nil, is invoked before each sleep with the failing error and the
// upcoming delay.
func WithRetry(ctx context.Context, policy RetryPolicy, notify func(err error, next time.Duration), op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(b, policy.MaxRetries), ctx)
	if notify == nil {
		return backoff.Retry(wrapped, bo)
	}
	return backoff.RetryNotify(wrapped, bo, notify)
}
