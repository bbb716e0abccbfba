package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryFunc is a function that can be retried. It returns nil on success.
type RetryFunc func() error

// RetryConfig holds configuration for retry behavior with exponential backoff.
type RetryConfig struct {
	MaxAttempts  int              // Maximum number of attempts (including first try)
	InitialDelay time.Duration    // Delay before the first retry
	MaxDelay     time.Duration    // Cap on any single delay
	Multiplier   float64          // Exponential backoff multiplier
	Jitter       bool             // Add ±25% random jitter to delays
	ShouldRetry  func(error) bool // Decides whether an error is transient (nil = retry all)
}

// DatabaseRetryConfig returns a configuration for connecting to Postgres and
// Redis at startup, when containers may not be ready yet.
func DatabaseRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ExternalAPIRetryConfig returns a configuration for calls to the auth backend.
// Only errors accepted by shouldRetry are retried; credential rejections must
// surface on the first attempt.
func ExternalAPIRetryConfig(shouldRetry func(error) bool) RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry:  shouldRetry,
	}
}

// Retry executes fn until it succeeds, a non-retryable error occurs, the
// attempts are exhausted, or ctx is cancelled.
//
// The delay between attempts is initialDelay * multiplier^(attempt-1),
// capped at MaxDelay.
//
// Example:
//
//	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
//	    return db.PingContext(ctx)
//	})
func Retry(ctx context.Context, config RetryConfig, fn RetryFunc) error {
	_, err := RetryWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is the value-returning form of Retry.
// A non-retryable error is returned unwrapped so callers can classify it.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Int("max_attempts", config.MaxAttempts).
					Msg("Operation succeeded after retry")
			}
			return res, nil
		}

		lastErr = err

		if !isRetryable(err, config) {
			return zero, err
		}

		if attempt >= config.MaxAttempts {
			log.Warn().
				Err(err).
				Int("attempts", attempt).
				Msg("Max retry attempts reached")
			break
		}

		delay := calculateDelay(attempt, config)

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", config.MaxAttempts, lastErr)
}

// calculateDelay computes the backoff for the given attempt.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.25
		delay += (rand.Float64() * 2 * jitterRange) - jitterRange
	}

	return time.Duration(delay)
}

func isRetryable(err error, config RetryConfig) bool {
	var marked *RetryableError
	if errors.As(err, &marked) {
		return true
	}
	if config.ShouldRetry == nil {
		return true
	}
	return config.ShouldRetry(err)
}

// RetryableError marks an error as transient regardless of ShouldRetry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err so Retry treats it as transient.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
