package llm

import (
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
)

// Classified error constructors. Clients use these so every failure
// lands in the pipeline taxonomy with a stable reason string.

// RateLimited marks a rate-limit rejection. Retryable.
func RateLimited(backend string, err error) error {
	return &pipeerrors.TransientBackendError{Backend: backend, Reason: "rate_limited", Err: err}
}

// Timeout marks an expired call deadline. Retryable.
func Timeout(backend string, err error) error {
	return &pipeerrors.TransientBackendError{Backend: backend, Reason: "timeout", Err: err}
}

// Unavailable marks a backend outage or transient network fault. Retryable.
func Unavailable(backend string, err error) error {
	return &pipeerrors.TransientBackendError{Backend: backend, Reason: "unavailable", Err: err}
}

// SafetyBlocked marks output refused on safety grounds. Not retried
// verbatim; the caller regenerates with adjusted parameters.
func SafetyBlocked(backend, detail string) error {
	return &pipeerrors.OutputQualityError{Backend: backend, Kind: "safety", Detail: detail}
}

// MalformedOutput marks unparseable model output. Not retried verbatim.
func MalformedOutput(backend, detail string, err error) error {
	return &pipeerrors.OutputQualityError{Backend: backend, Kind: "parse", Detail: detail, Err: err}
}
