package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError marks an error that ends the retry loop immediately.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config controls attempts and backoff.
type Config struct {
	MaxAttempts  int           // total attempts; <= 0 runs once
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // delay ceiling
	Multiplier   float64       // 1.0 gives a fixed interval
	AddJitter    bool          // adds up to 25% of the delay

	// OnRetry is called before each backoff sleep with the failed attempt number,
	// its error and the upcoming delay. Typically used for logging.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Quick returns a config for fast retries during startup.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Fixed returns a config that waits the same interval between attempts.
func Fixed(interval time.Duration, attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1.0,
	}
}

func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 {
		return c, errors.New("retry: InitialDelay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return c, errors.New("retry: MaxDelay cannot be negative")
	}
	if c.Multiplier < 0 {
		return c, errors.New("retry: Multiplier cannot be negative")
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	return c, nil
}

// next returns the delay following d, capped at MaxDelay.
func (c Config) next(d time.Duration) time.Duration {
	n := float64(d) * c.Multiplier
	if n > float64(c.MaxDelay) || n > float64(time.Duration(1<<63-1)) {
		return c.MaxDelay
	}
	return time.Duration(n)
}

func (c Config) withJitter(d time.Duration) time.Duration {
	if !c.AddJitter || d < 4 {
		return d
	}
	return d + rand.N(d/4)
}

// Do runs fn until it succeeds, returns a NonRetryable error, the attempts run
// out or ctx is done.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := cfg.withJitter(delay)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		delay = cfg.next(delay)
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
