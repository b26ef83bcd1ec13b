// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

type Config struct {
	MaxAttempts int // 0 retries until ctx ends
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the wait, 0-1
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. Unmarked errors stop Do immediately.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

func IsRetryable(err error) bool {
	var r retryableError
	return errors.As(err, &r)
}

func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if cfg.MaxAttempts != 0 && attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.backoff(attempt)):
		}
	}
	return zero, lastErr
}

func (cfg Config) backoff(attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := float64(cfg.InitialWait) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}
	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
