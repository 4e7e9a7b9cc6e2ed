package llm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
)

func TestBuildArgs(t *testing.T) {
	c := NewClaudeCLI(WithModel("claude-sonnet"))

	args := c.buildArgs(Request{
		Prompt:       "Draft the opening scene.",
		SystemPrompt: "You are a novelist.",
		MaxTokens:    2000,
	})

	assert.Equal(t, []string{
		"--print",
		"--system-prompt", "You are a novelist.",
		"--model", "claude-sonnet",
		"--max-tokens", "2000",
		"-p", "Draft the opening scene.",
	}, args)
}

func TestBuildArgs_RequestModelOverridesDefault(t *testing.T) {
	c := NewClaudeCLI(WithModel("claude-sonnet"))
	args := c.buildArgs(Request{Prompt: "p", Model: "claude-opus"})
	assert.Contains(t, args, "claude-opus")
	assert.NotContains(t, args, "claude-sonnet")
}

func TestClassifyCLIError(t *testing.T) {
	base := fmt.Errorf("exit status 1")

	tests := []struct {
		stderr string
		want   pipeerrors.Category
	}{
		{"Error: rate limit exceeded", pipeerrors.CategoryTransient},
		{"request timeout", pipeerrors.CategoryTransient},
		{"API overloaded, try again", pipeerrors.CategoryTransient},
		{"upstream returned 529", pipeerrors.CategoryTransient},
		{"blocked by safety filters", pipeerrors.CategoryOutputQuality},
		{"invalid API key", pipeerrors.CategoryFatal},
	}

	for _, tt := range tests {
		t.Run(tt.stderr, func(t *testing.T) {
			err := classifyCLIError("claude", base, tt.stderr)
			assert.Equal(t, tt.want, pipeerrors.Categorize(err))
		})
	}
}

func TestEstimateCostUSD(t *testing.T) {
	c := NewClaudeCLI(WithCostPerKToken(0.01))

	assert.Equal(t, 0.02, c.EstimateCostUSD(Request{MaxTokens: 2000}))
	// No MaxTokens: assume the 4096 default.
	assert.InDelta(t, 0.04096, c.EstimateCostUSD(Request{}), 1e-9)
}

func TestApproximateTokens(t *testing.T) {
	require.Equal(t, 1, approximateTokens("ab"))
	require.Equal(t, 25, approximateTokens(string(make([]byte, 100))))
}
