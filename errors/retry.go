package errors

import (
	"context"
	"math"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RetryableErrors []ErrorCode
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		RetryableErrors: []ErrorCode{
			ErrCodeConnectivity,
			ErrCodeTimeout,
			ErrCodeRateLimited,
		},
	}
}

// RetryFunc is a function that can be retried
type RetryFunc func() error

// RetryWithConfig retries a function with custom configuration
func RetryWithConfig(ctx context.Context, fn RetryFunc, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryableError(err, config.RetryableErrors) {
			return err
		}

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return WrapScope(
		lastErr,
		ErrCodeEndpointsExhausted,
		0,
		"maximum retry attempts exceeded",
	).WithContext("attempts", config.MaxAttempts)
}

// Retry retries a function with default configuration
func Retry(ctx context.Context, fn RetryFunc) error {
	return RetryWithConfig(ctx, fn, DefaultRetryConfig())
}

func isRetryableError(err error, retryableCodes []ErrorCode) bool {
	var scopeErr *ScopeError
	if As(err, &scopeErr) {
		for _, code := range retryableCodes {
			if scopeErr.Code == code {
				return true
			}
		}
		return scopeErr.IsRetryable()
	}
	return IsRetryable(err)
}

// ExponentialBackoff calculates exponential backoff delay
func ExponentialBackoff(attempt int, baseDelay time.Duration, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
