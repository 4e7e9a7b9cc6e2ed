package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
)

func TestScriptedClient_Deterministic(t *testing.T) {
	client := llm.RespondWith("mock", "Chapter one begins.", 0.05)

	for i := 0; i < 3; i++ {
		resp, err := client.Generate(context.Background(), llm.Request{Prompt: "draft"})
		require.NoError(t, err)
		assert.Equal(t, "Chapter one begins.", resp.Content)
		assert.Equal(t, 0.05, resp.CostUSD)
	}

	assert.Equal(t, 3, client.Calls())
	require.Len(t, client.Requests(), 3)
	assert.Equal(t, "draft", client.Requests()[0].Prompt)
}

func TestScriptedClient_ScriptSeesCallIndex(t *testing.T) {
	client := llm.NewScriptedClient("mock", func(call int, _ llm.Request) (*llm.Response, error) {
		if call < 3 {
			return nil, llm.RateLimited("mock", nil)
		}
		return &llm.Response{Content: "ok"}, nil
	})

	_, err := client.Generate(context.Background(), llm.Request{})
	assert.True(t, pipeerrors.IsRetryable(err))

	_, err = client.Generate(context.Background(), llm.Request{})
	assert.Error(t, err)

	resp, err := client.Generate(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestScriptedClient_FailWith(t *testing.T) {
	client := llm.FailWith("mock", llm.SafetyBlocked("mock", "flagged"))

	_, err := client.Generate(context.Background(), llm.Request{})
	assert.Equal(t, pipeerrors.CategoryOutputQuality, pipeerrors.Categorize(err))
}

func TestScriptedClient_RespectsContext(t *testing.T) {
	client := llm.RespondWith("mock", "never", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, llm.Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.Calls())
}
