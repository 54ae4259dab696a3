// Package retry provides a configurable retry mechanism for operations
// that may fail transiently. The rule executor uses it to honor per-rule
// retry settings; it is usable standalone for any context-aware operation.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return evaluateRule()
//	})
//
// With custom options:
//
//	err := retry.Do(ctx, operation,
//	    retry.WithAttempts(5),
//	    retry.WithBackoff(retry.ExpBackoff{Base: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2}),
//	    retry.WithJitter(retry.FullJitter),
//	)
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultAttempts      = 4
	defaultBaseDelay     = 100 * time.Millisecond
	defaultMaxDelay      = 2 * time.Second
	defaultBackoffFactor = 2.0
)

// ErrAttemptsExhausted is returned (wrapping the last attempt's error)
// when every attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Runner executes operations with retry logic.
type Runner interface {
	Do(ctx context.Context, f func(ctx context.Context) error) error
}

// Option configures a Runner via the functional options pattern.
type Option func(*options)

type options struct {
	attempts uint
	backoff  Backoff
	jitter   Jitter
	timeout  time.Duration
}

// WithAttempts sets the maximum number of attempts (initial call included).
// A value of 0 falls back to the default.
func WithAttempts(attempts uint) Option {
	return func(o *options) {
		if attempts > 0 {
			o.attempts = attempts
		}
	}
}

// WithBackoff sets the backoff strategy used between attempts.
func WithBackoff(b Backoff) Option {
	return func(o *options) {
		o.backoff = b
	}
}

// WithJitter sets the jitter strategy applied to backoff delays.
func WithJitter(j Jitter) Option {
	return func(o *options) {
		o.jitter = j
	}
}

// WithTimeout sets a per-attempt timeout. Zero means no timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// NewRunner creates a Runner. Defaults: 4 attempts, exponential backoff
// (100ms base, 2s cap, factor 2), full jitter, no per-attempt timeout.
func NewRunner(opts ...Option) Runner { //nolint:ireturn
	intOpts := &options{
		attempts: defaultAttempts,
		backoff: ExpBackoff{
			Base:   defaultBaseDelay,
			Max:    defaultMaxDelay,
			Factor: defaultBackoffFactor,
		},
		jitter: FullJitter,
	}

	for _, opt := range opts {
		opt(intOpts)
	}

	return &runnerImpl{opts: intOpts}
}

// Do runs f with the default Runner configuration plus the given options.
func Do(ctx context.Context, f func(ctx context.Context) error, opts ...Option) error {
	return NewRunner(opts...).Do(ctx, f)
}

type runnerImpl struct {
	opts *options
}

func (r *runnerImpl) Do(ctx context.Context, f func(ctx context.Context) error) error {
	var lastErr error

	for attempt := uint(0); attempt < r.opts.attempts; attempt++ {
		if attempt > 0 {
			delay := r.opts.jitter.apply(r.opts.backoff.Delay(attempt - 1))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()

				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = r.attempt(ctx, f)
		if lastErr == nil {
			return nil
		}

		// A canceled parent context is not retryable.
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return fmt.Errorf("%w: %w", ErrAttemptsExhausted, lastErr)
}

func (r *runnerImpl) attempt(ctx context.Context, f func(ctx context.Context) error) error {
	if r.opts.timeout <= 0 {
		return f(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	return f(attemptCtx)
}
