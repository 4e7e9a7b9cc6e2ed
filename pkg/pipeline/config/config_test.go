package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
)

const validYAML = `
project:
  title: The Glass Harbor
  genre: mystery
  chapters: 4
  scenes_per_chapter: 5
budget:
  cap_usd: 25.0
llm:
  backend: claude
  model: claude-sonnet
  temperature: 0.7
  max_tokens: 3000
  timeout: 90s
retry:
  max_attempts: 4
breaker:
  threshold: 3
  cooldown: 45s
checkpoint:
  backend: file
high_concept:
  candidates: 5
  fallback: hard_fail
`

func TestFromYAML_OverlaysDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "The Glass Harbor", cfg.Project.Title)
	assert.Equal(t, 4, cfg.Project.Chapters)
	assert.Equal(t, 25.0, cfg.Budget.CapUSD)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout.Std())
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown.Std())
	assert.Equal(t, config.FallbackHardFail, cfg.HighConcept.Fallback)

	// Unspecified fields keep their defaults.
	assert.Equal(t, 0.015, cfg.LLM.CostPerKToken)
	assert.Equal(t, 2*time.Minute, cfg.Breaker.Window.Std())
}

func TestFromYAML_UnknownKeyRejected(t *testing.T) {
	_, err := config.FromYAML([]byte(`
project:
  title: X
  chapers: 4
`))

	var cfgErr *pipeerrors.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Detail, "chapers")
}

func TestFromYAML_EmptyUsesDefaultsButFailsValidation(t *testing.T) {
	// Defaults alone have no project title.
	_, err := config.FromYAML(nil)

	var cfgErr *pipeerrors.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "project.title", cfgErr.Field)
}

func TestValidate_FieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		field  string
	}{
		{"negative cap", func(c *config.Config) { c.Budget.CapUSD = -1 }, "budget.cap_usd"},
		{"zero chapters", func(c *config.Config) { c.Project.Chapters = 0 }, "project.chapters"},
		{"unknown llm backend", func(c *config.Config) { c.LLM.Backend = "gpt9" }, "llm.backend"},
		{"temperature out of range", func(c *config.Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"zero attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"unknown checkpoint backend", func(c *config.Config) { c.Checkpoint.Backend = "s3" }, "checkpoint.backend"},
		{"sqlite without path", func(c *config.Config) {
			c.Checkpoint.Backend = "sqlite"
			c.Checkpoint.SQLitePath = ""
		}, "checkpoint.sqlite_path"},
		{"unknown fallback", func(c *config.Config) { c.HighConcept.Fallback = "guess" }, "high_concept.fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Project.Title = "X"
			tt.mutate(&cfg)

			err := cfg.Validate()
			var cfgErr *pipeerrors.ConfigValidationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Equal(t, pipeerrors.CategoryConfig, pipeerrors.Categorize(err))
		})
	}
}

func TestDuration_UnmarshalForms(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
project:
  title: X
llm:
  timeout: 30
breaker:
  cooldown: 1m30s
`))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout.Std())
	assert.Equal(t, 90*time.Second, cfg.Breaker.Cooldown.Std())
}

func TestDuration_InvalidString(t *testing.T) {
	_, err := config.FromYAML([]byte(`
project:
  title: X
llm:
  timeout: soon
`))
	assert.Error(t, err)
}
