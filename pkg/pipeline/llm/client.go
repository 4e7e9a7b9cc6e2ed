// Package llm defines the model-client interface consumed by pipeline
// stages, plus concrete clients: the Claude CLI backend and a scripted
// client for tests and dry runs.
package llm

import (
	"context"
	"time"
)

// Request configures one generation call.
type Request struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`

	// Timeout bounds this call. Zero means the client default.
	// A timeout is a retryable transient failure, not a fatal one.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Response is the output of a generation call.
type Response struct {
	Content    string        `json:"content"`
	TokensUsed int           `json:"tokens_used"`
	CostUSD    float64       `json:"cost_usd"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Client is a model backend. Implementations fail with the classified
// errors from pkg/pipeline/errors (constructed via RateLimited, Timeout,
// SafetyBlocked, MalformedOutput, Unavailable) so the retry/breaker
// policy can tell transient faults from unusable output.
type Client interface {
	// Backend returns the breaker key for this client ("claude",
	// "local", ...). One breaker per backend, not per call site.
	Backend() string

	// Generate produces text for the request.
	Generate(ctx context.Context, req Request) (*Response, error)

	// EstimateCostUSD returns the worst-case cost of the request,
	// used by the budget gate before the call is made.
	EstimateCostUSD(req Request) float64
}
