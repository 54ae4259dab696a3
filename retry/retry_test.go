package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func TestDoSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}

		return nil
	},
		WithAttempts(5),
		WithBackoff(ConstantBackoff(time.Millisecond)),
		WithJitter(WithoutJitter),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++

		return errTransient
	},
		WithAttempts(3),
		WithBackoff(ConstantBackoff(time.Millisecond)),
		WithJitter(WithoutJitter),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0

	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()

		return errTransient
	},
		WithAttempts(10),
		WithBackoff(ConstantBackoff(time.Millisecond)),
		WithJitter(WithoutJitter),
	)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPerAttemptTimeout(t *testing.T) {
	t.Parallel()

	err := Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	},
		WithAttempts(2),
		WithTimeout(10*time.Millisecond),
		WithBackoff(ConstantBackoff(time.Millisecond)),
		WithJitter(WithoutJitter),
	)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExpBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	backoff := ExpBackoff{Base: 100 * time.Millisecond, Max: 300 * time.Millisecond, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, backoff.Delay(0))
	assert.Equal(t, 200*time.Millisecond, backoff.Delay(1))
	assert.Equal(t, 300*time.Millisecond, backoff.Delay(2))
	assert.Equal(t, 300*time.Millisecond, backoff.Delay(10))
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	delay := 100 * time.Millisecond

	for range 50 {
		full := FullJitter.apply(delay)
		assert.GreaterOrEqual(t, full, time.Duration(0))
		assert.LessOrEqual(t, full, delay)

		equal := EqualJitter.apply(delay)
		assert.GreaterOrEqual(t, equal, delay/2)
		assert.LessOrEqual(t, equal, delay)
	}

	assert.Equal(t, delay, WithoutJitter.apply(delay))
}
