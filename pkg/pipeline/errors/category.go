// Package errors provides the pipeline error taxonomy plus the retry and
// circuit-breaker policy wrapped around model calls.
//
// The package implements a layered approach:
//   - Categorization: classify errors so the orchestrator can decide
//     between retrying, halting the run, or halting before startup
//   - Retry: absorb transient backend failures with exponential backoff
//   - Circuit breaking: stop calling a failing backend for a cool-down
//     period instead of burning retry budget on it
package errors

import (
	"errors"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary backend outages.
	CategoryTransient Category = iota

	// CategoryOutputQuality indicates the model produced malformed or
	// unsafe output. Retrying verbatim wastes budget on the same failure;
	// the caller should regenerate with adjusted parameters instead.
	CategoryOutputQuality

	// CategoryBudget indicates the run hit its spend cap.
	// Fatal to the run, not the project: resumable once the cap is raised.
	CategoryBudget

	// CategoryCorruption indicates persisted state failed validation.
	// Fatal and non-resumable without manual intervention.
	CategoryCorruption

	// CategoryConfig indicates invalid configuration.
	// Fatal at startup, before any stage runs.
	CategoryConfig

	// CategoryFatal indicates an unclassified error; retry won't help.
	CategoryFatal
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryOutputQuality:
		return "output_quality"
	case CategoryBudget:
		return "budget_exceeded"
	case CategoryCorruption:
		return "state_corruption"
	case CategoryConfig:
		return "config_validation"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Categorize determines how an error should be handled.
// Unknown errors are fatal (fail safe: never retry what we can't classify).
func Categorize(err error) Category {
	if err == nil {
		return CategoryFatal // shouldn't happen, fail safe
	}

	// Checked before the transient branch: the exhausted error wraps the
	// final attempt's transient failure, which must not reclassify the
	// whole call as retryable.
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return CategoryFatal
	}

	var transient *TransientBackendError
	if errors.As(err, &transient) {
		return CategoryTransient
	}

	var open *BreakerOpenError
	if errors.As(err, &open) {
		// The backend may recover after the cool-down; eligible for a
		// later resume even though the current call fails fast.
		return CategoryTransient
	}

	var quality *OutputQualityError
	if errors.As(err, &quality) {
		return CategoryOutputQuality
	}

	var budget *BudgetExceededError
	if errors.As(err, &budget) {
		return CategoryBudget
	}

	var corrupt *StateCorruptionError
	if errors.As(err, &corrupt) {
		return CategoryCorruption
	}

	var config *ConfigValidationError
	if errors.As(err, &config) {
		return CategoryConfig
	}

	return CategoryFatal
}

// IsRetryable reports whether the error should be retried in place.
func IsRetryable(err error) bool {
	var open *BreakerOpenError
	if errors.As(err, &open) {
		// Open breaker means fail fast, not retry.
		return false
	}
	return Categorize(err) == CategoryTransient
}

// ExitCode maps an error to the CLI exit code contract:
// 0 success, 2 budget exceeded, 3 interrupted, 1 anything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var interrupted *InterruptedError
	if errors.As(err, &interrupted) {
		return 3
	}
	if Categorize(err) == CategoryBudget {
		return 2
	}
	return 1
}

// As re-exports errors.As.
func As(err error, target any) bool { return errors.As(err, target) }

// Is re-exports errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }
