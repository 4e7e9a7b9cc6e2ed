package llm

import (
	"context"
	"sync"
	"sync/atomic"
)

// ScriptFunc produces a response for a request. The call index starts at 1.
type ScriptFunc func(call int, req Request) (*Response, error)

// ScriptedClient is a deterministic Client for tests and dry runs.
// Responses come from an injected script; the client records every
// request it sees so tests can assert on prompts and ordering.
type ScriptedClient struct {
	backend string
	script  ScriptFunc
	cost    float64

	calls atomic.Int64

	mu       sync.Mutex
	requests []Request
}

// NewScriptedClient creates a scripted client for the given backend key.
func NewScriptedClient(backend string, script ScriptFunc) *ScriptedClient {
	return &ScriptedClient{backend: backend, script: script}
}

// RespondWith builds a ScriptedClient that always returns the same content.
func RespondWith(backend, content string, costUSD float64) *ScriptedClient {
	c := NewScriptedClient(backend, func(int, Request) (*Response, error) {
		return &Response{
			Content:    content,
			TokensUsed: approximateTokens(content),
			CostUSD:    costUSD,
		}, nil
	})
	c.cost = costUSD
	return c
}

// FailWith builds a ScriptedClient that always returns err.
func FailWith(backend string, err error) *ScriptedClient {
	return NewScriptedClient(backend, func(int, Request) (*Response, error) {
		return nil, err
	})
}

// SetEstimate overrides the cost estimate reported to the budget gate.
func (c *ScriptedClient) SetEstimate(costUSD float64) *ScriptedClient {
	c.cost = costUSD
	return c
}

// Backend implements Client.
func (c *ScriptedClient) Backend() string { return c.backend }

// EstimateCostUSD implements Client.
func (c *ScriptedClient) EstimateCostUSD(Request) float64 { return c.cost }

// Generate implements Client.
func (c *ScriptedClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call := int(c.calls.Add(1))

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	return c.script(call, req)
}

// Calls returns how many times Generate was invoked.
func (c *ScriptedClient) Calls() int {
	return int(c.calls.Load())
}

// Requests returns a copy of every request seen, in order.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}
