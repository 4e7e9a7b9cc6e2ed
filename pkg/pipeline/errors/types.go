package errors

import (
	"fmt"
	"time"
)

// TransientBackendError indicates a retry-eligible backend failure:
// rate limits, timeouts, transient network faults, overload.
type TransientBackendError struct {
	// Backend identifies the model backend that failed.
	Backend string
	// Reason is a short machine-readable cause ("rate_limited", "timeout",
	// "unavailable").
	Reason string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientBackendError) Unwrap() error { return e.Err }

// OutputQualityError indicates malformed or unsafe model output.
// It is surfaced to the caller rather than blindly retried: against a
// deterministic-ish model, an identical retry reproduces the failure.
type OutputQualityError struct {
	// Backend identifies the model backend.
	Backend string
	// Kind distinguishes the failure mode: "parse" or "safety".
	Kind string
	// Detail describes what was wrong with the output.
	Detail string
	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *OutputQualityError) Error() string {
	return fmt.Sprintf("backend %s produced %s-rejected output: %s", e.Backend, e.Kind, e.Detail)
}

// Unwrap returns the underlying error.
func (e *OutputQualityError) Unwrap() error { return e.Err }

// BudgetExceededError indicates the configured spend cap would be (or has
// been) exceeded. Fatal to the run; the project resumes once the cap is raised.
type BudgetExceededError struct {
	// StageID is the stage that was gated, if known.
	StageID string
	// SpentUSD is cumulative spend at the time of the check.
	SpentUSD float64
	// CapUSD is the configured cap. A cap of 0 means local/free models only.
	CapUSD float64
	// EstimateUSD is the planned cost of the gated call.
	EstimateUSD float64
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("budget exceeded at stage %s: spent $%.4f + planned $%.4f > cap $%.4f",
			e.StageID, e.SpentUSD, e.EstimateUSD, e.CapUSD)
	}
	return fmt.Sprintf("budget exceeded: spent $%.4f + planned $%.4f > cap $%.4f",
		e.SpentUSD, e.EstimateUSD, e.CapUSD)
}

// StateCorruptionError indicates a checkpoint or in-memory state failed
// validation. Never silently repaired; reported with the checkpoint path
// and violated rule for manual recovery.
type StateCorruptionError struct {
	// Path is the checkpoint location that failed validation.
	Path string
	// Rule is the violated validation rule, when known.
	Rule string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StateCorruptionError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("state corruption in %s (rule %s): %v", e.Path, e.Rule, e.Err)
	}
	return fmt.Sprintf("state corruption in %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *StateCorruptionError) Unwrap() error { return e.Err }

// ConfigValidationError indicates invalid project configuration.
type ConfigValidationError struct {
	// Field is the offending configuration key, if known.
	Field string
	// Detail describes the problem.
	Detail string
}

// Error implements the error interface.
func (e *ConfigValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("invalid config: %s", e.Detail)
}

// BreakerOpenError indicates the circuit breaker for a backend is open.
// The call failed fast without reaching the backend.
type BreakerOpenError struct {
	// Backend identifies the backend whose breaker is open.
	Backend string
	// RetryAfter is how long until the breaker admits a probe call.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for backend %s (probe in %s)", e.Backend, e.RetryAfter)
}

// RetriesExhaustedError indicates all retry attempts failed.
// Carries the last error so callers can still inspect the root cause.
type RetriesExhaustedError struct {
	// Backend identifies the backend, if the call was backend-bound.
	Backend string
	// Attempts is how many attempts were made.
	Attempts int
	// Err is the error from the final attempt.
	Err error
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the final attempt's error.
func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// InterruptedError marks a run halted by cancellation or a whole-run
// timeout. Distinct from a stage failure: the last checkpoint is intact
// and resume behaves like a clean restart.
type InterruptedError struct {
	// StageID is the stage that was pending or executing.
	StageID string
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *InterruptedError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("run interrupted at stage %s: %v", e.StageID, e.Cause)
	}
	return fmt.Sprintf("run interrupted: %v", e.Cause)
}

// Unwrap returns the cancellation cause.
func (e *InterruptedError) Unwrap() error { return e.Cause }
