package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

func fast(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		if attempts < 3 {
			return errRefused
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fast(3), func() error {
		attempts++
		return errRefused
	})
	assert.ErrorIs(t, err, errRefused)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestDo_BackoffSequence(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, Multiplier: 2}
	var delays []time.Duration
	cfg.OnRetry = func(_ int, _ error, next time.Duration) { delays = append(delays, next) }

	_ = Do(context.Background(), cfg, func() error { return errRefused })
	assert.Equal(t, []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond,
	}, delays)
}

func TestDo_FixedInterval(t *testing.T) {
	cfg := Fixed(2*time.Millisecond, 3)
	var delays []time.Duration
	cfg.OnRetry = func(_ int, _ error, next time.Duration) { delays = append(delays, next) }

	assert.Error(t, Do(context.Background(), cfg, func() error { return errRefused }))
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDo_Jitter(t *testing.T) {
	cfg := Config{MaxAttempts: 2, InitialDelay: 8 * time.Millisecond, MaxDelay: time.Second, AddJitter: true}
	var got time.Duration
	cfg.OnRetry = func(_ int, _ error, next time.Duration) { got = next }

	_ = Do(context.Background(), cfg, func() error { return errRefused })
	assert.GreaterOrEqual(t, got, 8*time.Millisecond)
	assert.Less(t, got, 10*time.Millisecond)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Fixed(time.Hour, 5)
	cfg.OnRetry = func(int, error, time.Duration) { cancel() }

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errRefused
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Equal(t, 1, attempts)
}

func TestDo_NonRetryableStops(t *testing.T) {
	attempts := 0
	bad := errors.New("bad credentials")
	err := Do(context.Background(), fast(5), func() error {
		attempts++
		return NonRetryable(bad)
	})
	assert.ErrorIs(t, err, bad)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, attempts)
	assert.NoError(t, NonRetryable(nil))
}

func TestConfig_Normalize(t *testing.T) {
	attempts := 0
	require.NoError(t, Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	}))
	assert.Equal(t, 1, attempts, "zero config runs once")

	assert.Error(t, Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil }))
	assert.Error(t, Do(context.Background(), Config{InitialDelay: -1}, func() error { return nil }))

	assert.Equal(t, 10, Quick().MaxAttempts)
	assert.Equal(t, 1.0, Fixed(time.Second, 2).Multiplier)
}
