package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Defaults for RetryPolicy.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2000 * time.Millisecond
)

// ErrorClass is the retry decision for a failed attempt.
type ErrorClass int

const (
	ClassPermanent ErrorClass = iota
	ClassTransient
)

func (c ErrorClass) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "permanent"
}

// ClassifyError is the default classifier. Only transient provider errors,
// network timeouts and per-attempt deadlines are retried. Validation,
// budget, unknown-response and cancellation errors are permanent.
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassPermanent
	case errors.Is(err, context.Canceled):
		return ClassPermanent
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBudgetExceeded):
		return ClassPermanent
	case errors.Is(err, ErrProviderTransient):
		return ClassTransient
	case errors.Is(err, ErrProviderPermanent), errors.Is(err, ErrUnknownProviderResponse):
		return ClassPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassPermanent
}

// RetryState describes the attempt that just failed. It is handed to
// OnRetry and lives only for one Execute call.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// RetryPolicy wraps a provider call with a bounded number of attempts and
// a fixed delay between them.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int

	// Delay is waited between attempts. It does not grow.
	Delay time.Duration

	// Classify decides whether a failure is retried. Nil uses ClassifyError.
	Classify func(error) ErrorClass

	// Wait blocks for d or until ctx is done. Nil uses a timer.
	Wait func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait.
	OnRetry func(state RetryState, err error)
}

// DefaultRetryPolicy returns 3 attempts with a fixed 2s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultRetryDelay,
		Classify:    ClassifyError,
	}
}

// Execute runs op until it succeeds, fails with a non-transient error, or
// MaxAttempts calls have been made. The wait between attempts ends early
// when ctx is cancelled, and the timer is released.
//
// Example:
//
//	res, err := pipeline.Execute(ctx, policy, func(ctx context.Context) (SynthesisResult, error) {
//	    return synth.Synthesize(ctx, req)
//	})
func Execute[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := max(p.MaxAttempts, 1)
	classify := p.Classify
	if classify == nil {
		classify = ClassifyError
	}
	wait := p.Wait
	if wait == nil {
		wait = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("pipeline: retry aborted after %d attempts (last error: %v): %w", attempt-1, lastErr, err)
			}
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if classify(err) != ClassTransient {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(RetryState{Attempt: attempt, MaxAttempts: maxAttempts, Delay: p.Delay}, err)
		}
		if err := wait(ctx, p.Delay); err != nil {
			return zero, fmt.Errorf("pipeline: retry aborted after %d attempts (last error: %v): %w", attempt, lastErr, err)
		}
	}

	return zero, &RetryExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// sleepContext waits for d unless ctx finishes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
