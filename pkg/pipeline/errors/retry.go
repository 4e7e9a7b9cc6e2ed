package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// AggressiveRetry retries more times with shorter backoff.
var AggressiveRetry = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  1.5,
	Jitter:         0.2,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// Policy wraps fallible, costly operations (LLM calls) with bounded
// retries and a per-backend circuit breaker.
type Policy struct {
	Retry    RetryConfig
	Breakers *BreakerSet
}

// NewPolicy creates a policy with the given retry config and breaker config.
func NewPolicy(retry RetryConfig, breaker BreakerConfig) *Policy {
	return &Policy{
		Retry:    retry,
		Breakers: NewBreakerSet(breaker),
	}
}

// Call executes fn against the named backend under the policy.
//
// Behavior per attempt:
//   - An open breaker fails fast with *BreakerOpenError, consuming neither
//     retry budget nor wall-clock time.
//   - Transient failures are retried with exponential backoff and jitter,
//     and counted against the backend's breaker.
//   - Output-quality failures (parse errors, safety violations) are
//     returned immediately: the caller decides whether to regenerate with
//     adjusted parameters. They do not count against the breaker.
//   - All other failures are returned immediately.
//
// When retries are exhausted the final transient error is wrapped in
// *RetriesExhaustedError so the orchestrator reclassifies it as a stage
// failure.
func Call[T any](ctx context.Context, p *Policy, backend string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	breaker := p.Breakers.For(backend)
	backoff := p.Retry.InitialBackoff
	maxAttempts := p.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &InterruptedError{Cause: err}
		}

		if err := breaker.Allow(backend); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			breaker.RecordSuccess()
			return result, nil
		}
		lastErr = err

		// Cancellation that lands mid-call surfaces as the client's
		// error; report the interruption, not the dressed-up failure.
		if ctx.Err() != nil {
			return zero, &InterruptedError{Cause: ctx.Err()}
		}

		switch Categorize(err) {
		case CategoryTransient:
			breaker.RecordFailure()
		case CategoryOutputQuality:
			// Backend is healthy; the output was unusable.
			return zero, err
		default:
			return zero, err
		}

		// Don't sleep after the last attempt.
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return zero, &InterruptedError{Cause: ctx.Err()}
			case <-time.After(withJitter(backoff, p.Retry.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * p.Retry.BackoffFactor)
			if p.Retry.MaxBackoff > 0 && backoff > p.Retry.MaxBackoff {
				backoff = p.Retry.MaxBackoff
			}
		}
	}

	return zero, &RetriesExhaustedError{
		Backend:  backend,
		Attempts: maxAttempts,
		Err:      lastErr,
	}
}

// withJitter returns the backoff duration with jitter applied:
// base +/- (base * jitter * random).
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + amount)
}
