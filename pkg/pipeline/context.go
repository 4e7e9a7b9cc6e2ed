package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/novelforge/pkg/pipeline/budget"
	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
	"github.com/randalmurphal/novelforge/pkg/pipeline/observability"
)

// Context provides execution context to stage bodies.
// It extends context.Context with pipeline services and metadata.
//
// Dependencies are injected here rather than looked up via ambient
// globals, so stage bodies are independently testable.
//
// Context is immutable after creation. The orchestrator derives a new
// context per stage with the StageID set and the logger enriched.
type Context interface {
	context.Context

	// Services

	// Logger returns the configured logger, enriched with run and stage
	// context during execution. Never nil; defaults to slog.Default().
	Logger() *slog.Logger

	// LLM returns the model client, or nil if not configured.
	// Stage bodies should check for nil before using.
	LLM() llm.Client

	// Ledger returns the budget ledger, or nil if not configured.
	Ledger() *budget.Ledger

	// Policy returns the retry/circuit-breaker policy, or nil.
	Policy() *pipeerrors.Policy

	// Config returns the validated project configuration, or nil.
	Config() *config.Config

	// Metadata

	// RunID returns the unique identifier for this run.
	// Auto-generated if not configured.
	RunID() string

	// StageID returns the stage currently executing.
	// Empty before execution starts.
	StageID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger  *slog.Logger
	client  llm.Client
	ledger  *budget.Ledger
	policy  *pipeerrors.Policy
	cfg     *config.Config
	runID   string
	stageID string
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger { return c.logger }

// LLM returns the model client.
func (c *executionContext) LLM() llm.Client { return c.client }

// Ledger returns the budget ledger.
func (c *executionContext) Ledger() *budget.Ledger { return c.ledger }

// Policy returns the retry/circuit-breaker policy.
func (c *executionContext) Policy() *pipeerrors.Policy { return c.policy }

// Config returns the project configuration.
func (c *executionContext) Config() *config.Config { return c.cfg }

// RunID returns the run identifier.
func (c *executionContext) RunID() string { return c.runID }

// StageID returns the current stage identifier.
func (c *executionContext) StageID() string { return c.stageID }

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger is enriched with run_id and stage_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLLM sets the model client for the context.
func WithLLM(client llm.Client) ContextOption {
	return func(c *executionContext) {
		c.client = client
	}
}

// WithLedger sets the budget ledger for the context.
func WithLedger(ledger *budget.Ledger) ContextOption {
	return func(c *executionContext) {
		c.ledger = ledger
	}
}

// WithPolicy sets the retry/circuit-breaker policy for the context.
func WithPolicy(policy *pipeerrors.Policy) ContextOption {
	return func(c *executionContext) {
		c.policy = policy
	}
}

// WithConfig sets the project configuration for the context.
func WithConfig(cfg *config.Config) ContextOption {
	return func(c *executionContext) {
		c.cfg = cfg
	}
}

// WithRunID sets the run identifier. If not set, a UUID is generated.
func WithRunID(id string) ContextOption {
	return func(c *executionContext) {
		if id != "" {
			c.runID = id
		}
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := pipeline.NewContext(context.Background(),
//	    pipeline.WithLLM(client),
//	    pipeline.WithLedger(ledger),
//	    pipeline.WithConfig(cfg))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// withStageID returns a derived context with the stage set and the
// logger enriched. Used by the orchestrator per stage.
func (c *executionContext) withStageID(stageID string) *executionContext {
	return &executionContext{
		Context: c.Context,
		logger:  observability.EnrichLogger(c.logger, c.runID, stageID),
		client:  c.client,
		ledger:  c.ledger,
		policy:  c.policy,
		cfg:     c.cfg,
		runID:   c.runID,
		stageID: stageID,
	}
}
