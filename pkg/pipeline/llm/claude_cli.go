package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ClaudeCLI implements Client using the Claude CLI binary.
type ClaudeCLI struct {
	path          string
	model         string
	workdir       string
	timeout       time.Duration
	costPerKToken float64
}

// ClaudeOption configures ClaudeCLI.
type ClaudeOption func(*ClaudeCLI)

// NewClaudeCLI creates a new Claude CLI client.
// Assumes "claude" is available in PATH unless overridden with WithClaudePath.
func NewClaudeCLI(opts ...ClaudeOption) *ClaudeCLI {
	c := &ClaudeCLI{
		path:          "claude",
		timeout:       5 * time.Minute,
		costPerKToken: 0.015,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithClaudePath sets the path to the claude binary.
func WithClaudePath(path string) ClaudeOption {
	return func(c *ClaudeCLI) { c.path = path }
}

// WithModel sets the default model.
func WithModel(model string) ClaudeOption {
	return func(c *ClaudeCLI) { c.model = model }
}

// WithWorkdir sets the working directory for claude commands.
func WithWorkdir(dir string) ClaudeOption {
	return func(c *ClaudeCLI) { c.workdir = dir }
}

// WithTimeout sets the default timeout for commands.
func WithTimeout(d time.Duration) ClaudeOption {
	return func(c *ClaudeCLI) { c.timeout = d }
}

// WithCostPerKToken sets the billing rate used for cost estimates.
func WithCostPerKToken(rate float64) ClaudeOption {
	return func(c *ClaudeCLI) { c.costPerKToken = rate }
}

// Backend implements Client.
func (c *ClaudeCLI) Backend() string { return "claude" }

// EstimateCostUSD implements Client. The estimate is the worst case:
// the full MaxTokens at the configured rate.
func (c *ClaudeCLI) EstimateCostUSD(req Request) float64 {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return float64(maxTokens) / 1000 * c.costPerKToken
}

// Generate implements Client.
func (c *ClaudeCLI) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, c.path, c.buildArgs(req)...)
	if c.workdir != "" {
		cmd.Dir = c.workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, Timeout(c.Backend(), callCtx.Err())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyCLIError(c.Backend(), err, stderr.String())
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return nil, MalformedOutput(c.Backend(), "empty completion", nil)
	}

	tokens := approximateTokens(content)
	return &Response{
		Content:    content,
		TokensUsed: tokens,
		CostUSD:    float64(tokens) / 1000 * c.costPerKToken,
		Model:      c.model,
		Duration:   time.Since(start),
	}, nil
}

// buildArgs constructs CLI arguments from a request.
func (c *ClaudeCLI) buildArgs(req Request) []string {
	args := []string{"--print"}

	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	// Model priority: request > client default
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", fmt.Sprintf("%d", req.MaxTokens))
	}

	if req.Prompt != "" {
		args = append(args, "-p", req.Prompt)
	}

	return args
}

// classifyCLIError maps CLI stderr output into the error taxonomy.
func classifyCLIError(backend string, err error, stderr string) error {
	lower := strings.ToLower(stderr)
	wrapped := fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr))

	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return RateLimited(backend, wrapped)
	case strings.Contains(lower, "timeout"):
		return Timeout(backend, wrapped)
	case strings.Contains(lower, "overloaded"),
		strings.Contains(lower, "503"),
		strings.Contains(lower, "529"):
		return Unavailable(backend, wrapped)
	case strings.Contains(lower, "safety"), strings.Contains(lower, "policy violation"):
		return SafetyBlocked(backend, strings.TrimSpace(stderr))
	default:
		return wrapped
	}
}

// approximateTokens estimates token count when the CLI reports none.
// Four characters per token is close enough for budget accounting.
func approximateTokens(content string) int {
	n := len(content) / 4
	if n == 0 {
		n = 1
	}
	return n
}
