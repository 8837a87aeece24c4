// Package retry provides bounded retry logic with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrExhausted is returned when the attempt budget or the overall timeout
// runs out before fn succeeds. The last error from fn is wrapped with it.
var ErrExhausted = errors.New("retry budget exhausted")

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	InitialWait time.Duration `mapstructure:"initial_wait" validate:"gt=0"`
	MaxWait     time.Duration `mapstructure:"max_wait" validate:"gtefield=InitialWait"`
	Multiplier  float64       `mapstructure:"multiplier" validate:"gte=1"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"` // 0 = no overall deadline
}

// DefaultConfig returns the poll defaults used to wait for copied and
// moved items to become visible.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 20,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		Timeout:     time.Minute,
	}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Backoff returns the wait before the given attempt (1-based) without jitter.
func Backoff(cfg Config, attempt int) time.Duration {
	wait := float64(cfg.InitialWait) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	return time.Duration(wait)
}

// Do executes fn with retries.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn until it succeeds, returns a non-retryable
// error, or the budget runs out. Running out yields an error wrapping
// ErrExhausted. Cancellation of the parent ctx is returned as is.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := float64(Backoff(cfg, attempt))
		if cfg.Jitter > 0 {
			wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline:
			return zero, fmt.Errorf("%w after %d attempts (timeout %s): %v", ErrExhausted, attempt, cfg.Timeout, lastErr)
		case <-time.After(time.Duration(wait)):
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, cfg.MaxAttempts, lastErr)
}
