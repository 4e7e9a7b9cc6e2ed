package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a reader to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordStageExecution(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records execution count", func(t *testing.T) {
		m.RecordStageExecution(ctx, "draft_scenes", 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "novelforge.stage.executions")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")
		require.NotEmpty(t, sum.DataPoints)
	})

	t.Run("records errors separately", func(t *testing.T) {
		m.RecordStageExecution(ctx, "draft_scenes", 10*time.Millisecond, errors.New("boom"))

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "novelforge.stage.errors")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)
	})
}

func TestRecordPipelineRun(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordPipelineRun(context.Background(), true, 2*time.Second)

	rm := collectMetrics(t, reader)
	assert.NotNil(t, findMetric(rm, "novelforge.pipeline.runs"))
	assert.NotNil(t, findMetric(rm, "novelforge.pipeline.latency_ms"))
}

func TestRecordLLMCost(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordLLMCost(context.Background(), "claude", 0.12, 4800)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "novelforge.llm.cost_usd")
	require.NotNil(t, metric)

	sum, ok := metric.Data.(metricdata.Sum[float64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
	assert.Equal(t, 0.12, sum.DataPoints[0].Value)
}

func TestNoopImplementations(t *testing.T) {
	// Exercise every no-op path; nothing should panic.
	var m MetricsRecorder = NoopMetrics{}
	m.RecordStageExecution(context.Background(), "s", time.Second, nil)
	m.RecordPipelineRun(context.Background(), false, time.Second)
	m.RecordCheckpoint(context.Background(), "s", 10)
	m.RecordLLMCost(context.Background(), "b", 1, 1)

	var sm SpanManager = NoopSpanManager{}
	ctx, span := sm.StartRunSpan(context.Background(), "/p", "run")
	_, stageSpan := sm.StartStageSpan(ctx, "s")
	sm.EndSpanWithError(span, nil)
	sm.EndSpanWithError(stageSpan, errors.New("x"))
}

func TestLoggerHelpers_NilSafe(t *testing.T) {
	// All helpers must tolerate a nil logger.
	LogRunStart(nil, "run", "/p", false)
	LogRunComplete(nil, "run", 1, 1, 0)
	LogRunError(nil, "run", errors.New("x"), 1, "s")
	LogStageStart(nil, "s")
	LogStageSkipped(nil, "s")
	LogStageComplete(nil, "s", 1, 0)
	LogStageError(nil, "s", errors.New("x"))
	LogCheckpoint(nil, "s", 1)
	LogBudgetGate(nil, "s", 1, 1)
	assert.Nil(t, EnrichLogger(nil, "run", "s"))
}
