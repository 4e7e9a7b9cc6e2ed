// Package config loads and validates project configuration.
//
// Configuration is an explicitly typed structure checked once at load
// time: recognized options are enumerated below, unknown keys are
// reported as errors rather than silently accepted.
package config

import (
	"fmt"
	"time"

	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
)

// Config is the validated project configuration.
type Config struct {
	Project     Project     `yaml:"project"`
	Budget      Budget      `yaml:"budget"`
	LLM         LLM         `yaml:"llm"`
	Retry       Retry       `yaml:"retry"`
	Breaker     Breaker     `yaml:"breaker"`
	Checkpoint  Checkpoint  `yaml:"checkpoint"`
	HighConcept HighConcept `yaml:"high_concept"`
}

// Project describes the book being generated.
type Project struct {
	Title            string `yaml:"title"`
	Genre            string `yaml:"genre"`
	Chapters         int    `yaml:"chapters"`
	ScenesPerChapter int    `yaml:"scenes_per_chapter"`
}

// Budget configures the spend cap.
type Budget struct {
	// CapUSD is the hard spend cap. 0 means local/free models only.
	CapUSD float64 `yaml:"cap_usd"`
}

// LLM configures the model backend.
type LLM struct {
	// Backend selects the client: "claude" or "scripted".
	Backend       string   `yaml:"backend"`
	Model         string   `yaml:"model"`
	Temperature   float64  `yaml:"temperature"`
	MaxTokens     int      `yaml:"max_tokens"`
	Timeout       Duration `yaml:"timeout"`
	CostPerKToken float64  `yaml:"cost_per_k_tokens"`
}

// Retry configures the retry policy around model calls.
type Retry struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	BackoffFactor  float64  `yaml:"backoff_factor"`
	Jitter         float64  `yaml:"jitter"`
}

// Breaker configures the per-backend circuit breaker.
type Breaker struct {
	Threshold int      `yaml:"threshold"`
	Window    Duration `yaml:"window"`
	Cooldown  Duration `yaml:"cooldown"`
}

// Checkpoint selects the checkpoint store backend.
type Checkpoint struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend"`
	// SQLitePath is the database path when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
}

// FallbackPolicy decides what happens when the high-concept validator
// never passes a candidate.
type FallbackPolicy string

const (
	// FallbackBestEffort selects the lowest-penalty candidate.
	FallbackBestEffort FallbackPolicy = "best_effort"
	// FallbackHardFail fails the stage instead of guessing.
	FallbackHardFail FallbackPolicy = "hard_fail"
)

// HighConcept configures the generate-and-validate concept stage.
type HighConcept struct {
	Candidates int            `yaml:"candidates"`
	Fallback   FallbackPolicy `yaml:"fallback"`
}

// Default returns the configuration defaults applied before file values.
func Default() Config {
	return Config{
		Project: Project{
			Chapters:         2,
			ScenesPerChapter: 3,
		},
		Budget: Budget{CapUSD: 10},
		LLM: LLM{
			Backend:       "claude",
			Temperature:   0.8,
			MaxTokens:     4096,
			Timeout:       Duration(2 * time.Minute),
			CostPerKToken: 0.015,
		},
		Retry: Retry{
			MaxAttempts:    3,
			InitialBackoff: Duration(time.Second),
			MaxBackoff:     Duration(30 * time.Second),
			BackoffFactor:  2.0,
			Jitter:         0.1,
		},
		Breaker: Breaker{
			Threshold: 3,
			Window:    Duration(2 * time.Minute),
			Cooldown:  Duration(30 * time.Second),
		},
		Checkpoint:  Checkpoint{Backend: "file"},
		HighConcept: HighConcept{Candidates: 3, Fallback: FallbackBestEffort},
	}
}

// Validate checks field ranges and enumerations.
// Returns a *ConfigValidationError naming the first offending field.
func (c *Config) Validate() error {
	if c.Project.Title == "" {
		return invalid("project.title", "required")
	}
	if c.Project.Chapters < 1 {
		return invalid("project.chapters", "must be at least 1")
	}
	if c.Project.ScenesPerChapter < 1 {
		return invalid("project.scenes_per_chapter", "must be at least 1")
	}
	if c.Budget.CapUSD < 0 {
		return invalid("budget.cap_usd", "must not be negative")
	}
	switch c.LLM.Backend {
	case "claude", "scripted":
	default:
		return invalid("llm.backend", fmt.Sprintf("unknown backend %q", c.LLM.Backend))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return invalid("llm.temperature", "must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 1 {
		return invalid("llm.max_tokens", "must be at least 1")
	}
	if c.LLM.Timeout.Std() <= 0 {
		return invalid("llm.timeout", "must be positive")
	}
	if c.LLM.CostPerKToken < 0 {
		return invalid("llm.cost_per_k_tokens", "must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts", "must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return invalid("retry.jitter", "must be between 0 and 1")
	}
	if c.Breaker.Threshold < 1 {
		return invalid("breaker.threshold", "must be at least 1")
	}
	switch c.Checkpoint.Backend {
	case "file":
	case "sqlite":
		if c.Checkpoint.SQLitePath == "" {
			return invalid("checkpoint.sqlite_path", "required when backend is sqlite")
		}
	default:
		return invalid("checkpoint.backend", fmt.Sprintf("unknown backend %q", c.Checkpoint.Backend))
	}
	if c.HighConcept.Candidates < 1 {
		return invalid("high_concept.candidates", "must be at least 1")
	}
	switch c.HighConcept.Fallback {
	case FallbackBestEffort, FallbackHardFail:
	default:
		return invalid("high_concept.fallback", fmt.Sprintf("unknown policy %q", c.HighConcept.Fallback))
	}
	return nil
}

// Policy builds the retry/circuit-breaker policy described by the
// Retry and Breaker sections.
func (c *Config) Policy() *pipeerrors.Policy {
	return pipeerrors.NewPolicy(
		pipeerrors.RetryConfig{
			MaxAttempts:    c.Retry.MaxAttempts,
			InitialBackoff: c.Retry.InitialBackoff.Std(),
			MaxBackoff:     c.Retry.MaxBackoff.Std(),
			BackoffFactor:  c.Retry.BackoffFactor,
			Jitter:         c.Retry.Jitter,
		},
		pipeerrors.BreakerConfig{
			Threshold: c.Breaker.Threshold,
			Window:    c.Breaker.Window.Std(),
			Cooldown:  c.Breaker.Cooldown.Std(),
		},
	)
}

func invalid(field, detail string) error {
	return &pipeerrors.ConfigValidationError{Field: field, Detail: detail}
}
