package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStageExecution records a stage execution with its duration and error status.
	RecordStageExecution(ctx context.Context, stageID string, duration time.Duration, err error)

	// RecordPipelineRun records a run completion.
	RecordPipelineRun(ctx context.Context, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, stageID string, sizeBytes int64)

	// RecordLLMCost records the cost of a successful billable call.
	RecordLLMCost(ctx context.Context, backend string, costUSD float64, tokens int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stageExecutions metric.Int64Counter
	stageLatency    metric.Float64Histogram
	stageErrors     metric.Int64Counter
	pipelineRuns    metric.Int64Counter
	pipelineLatency metric.Float64Histogram
	checkpointSize  metric.Int64Histogram
	llmCost         metric.Float64Counter
	llmTokens       metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("novelforge")

	stageExecutions, err := meter.Int64Counter("novelforge.stage.executions",
		metric.WithDescription("Number of stage executions"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("novelforge.stage.latency_ms",
		metric.WithDescription("Stage execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter("novelforge.stage.errors",
		metric.WithDescription("Number of stage execution errors"),
	)
	if err != nil {
		return nil, err
	}

	pipelineRuns, err := meter.Int64Counter("novelforge.pipeline.runs",
		metric.WithDescription("Number of pipeline runs"),
	)
	if err != nil {
		return nil, err
	}

	pipelineLatency, err := meter.Float64Histogram("novelforge.pipeline.latency_ms",
		metric.WithDescription("Pipeline run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("novelforge.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	llmCost, err := meter.Float64Counter("novelforge.llm.cost_usd",
		metric.WithDescription("Cumulative LLM spend in USD"),
	)
	if err != nil {
		return nil, err
	}

	llmTokens, err := meter.Int64Counter("novelforge.llm.tokens",
		metric.WithDescription("Tokens consumed by LLM calls"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stageExecutions: stageExecutions,
		stageLatency:    stageLatency,
		stageErrors:     stageErrors,
		pipelineRuns:    pipelineRuns,
		pipelineLatency: pipelineLatency,
		checkpointSize:  checkpointSize,
		llmCost:         llmCost,
		llmTokens:       llmTokens,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStageExecution records a stage execution.
func (m *otelMetrics) RecordStageExecution(ctx context.Context, stageID string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("stage_id", stageID),
	}

	m.stageExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.stageErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordPipelineRun records a run.
func (m *otelMetrics) RecordPipelineRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.pipelineRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.pipelineLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, stageID string, sizeBytes int64) {
	attrs := []attribute.KeyValue{
		attribute.String("stage_id", stageID),
	}
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))
}

// RecordLLMCost records spend and tokens for a successful call.
func (m *otelMetrics) RecordLLMCost(ctx context.Context, backend string, costUSD float64, tokens int) {
	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
	}
	m.llmCost.Add(ctx, costUSD, metric.WithAttributes(attrs...))
	m.llmTokens.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
}
