package ssh

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps retry tests quick.
var fastPolicy = RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
	Multiplier:      2,
	MaxRetries:      5,
}

func TestWithRetry_TransientErrorsAreRetried(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastPolicy, nil, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: connection reset", ErrTransport)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_NonTransientFailsImmediately(t *testing.T) {
	boom := errors.New("bad script")
	attempts := 0
	err := WithRetry(context.Background(), fastPolicy, nil, func() error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastPolicy, nil, func() error {
		attempts++
		return fmt.Errorf("%w: still down", ErrTransport)
	})

	assert.ErrorIs(t, err, ErrTransport)
	// Initial attempt plus MaxRetries retries.
	assert.Equal(t, 6, attempts)
}

func TestWithRetry_NotifySeesEachFailure(t *testing.T) {
	var delays []time.Duration
	attempts := 0
	err := WithRetry(context.Background(), fastPolicy, func(err error, next time.Duration) {
		delays = append(delays, next)
	}, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: flaky", ErrTransport)
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, delays, 2)
	assert.Equal(t, time.Millisecond, delays[0])
	assert.Equal(t, 2*time.Millisecond, delays[1])
}

func TestWithRetry_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, fastPolicy, nil, func() error {
		attempts++
		cancel()
		return fmt.Errorf("%w: down", ErrTransport)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("%w: eof", ErrTransport)))
	assert.False(t, IsTransient(errors.New("exit status 1")))
	assert.False(t, IsTransient(nil))
}
