// Package observability provides structured logging, metrics, and tracing
// for the pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Nothing here is ambient: the metrics sink and span manager are injected
// into the orchestrator, and every logging helper is nil-safe so callers
// can pass no logger at all.
package observability

import (
	"log/slog"
)

// LogRunStart logs the start of a pipeline run.
func LogRunStart(logger *slog.Logger, runID, projectPath string, resume bool) {
	if logger == nil {
		return
	}
	logger.Info("pipeline run starting",
		slog.String("run_id", runID),
		slog.String("project", projectPath),
		slog.Bool("resume", resume),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, stages int, costUSD float64) {
	if logger == nil {
		return
	}
	logger.Info("pipeline run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("stages_executed", stages),
		slog.Float64("total_cost_usd", costUSD),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastStage string) {
	if logger == nil {
		return
	}
	logger.Error("pipeline run halted",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_stage", lastStage),
	)
}

// LogStageStart logs stage execution start.
func LogStageStart(logger *slog.Logger, stageID string) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting",
		slog.String("stage_id", stageID),
	)
}

// LogStageSkipped logs a stage skipped on resume.
func LogStageSkipped(logger *slog.Logger, stageID string) {
	if logger == nil {
		return
	}
	logger.Debug("stage already completed, skipping",
		slog.String("stage_id", stageID),
	)
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, stageID string, durationMs float64, costUSD float64) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed",
		slog.String("stage_id", stageID),
		slog.Float64("duration_ms", durationMs),
		slog.Float64("cost_usd", costUSD),
	)
}

// LogStageError logs stage failure.
func LogStageError(logger *slog.Logger, stageID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed",
		slog.String("stage_id", stageID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, stageID string, sequence int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("stage_id", stageID),
		slog.Int("sequence", sequence),
	)
}

// LogBudgetGate logs a stage blocked by the budget cap.
func LogBudgetGate(logger *slog.Logger, stageID string, spentUSD, capUSD float64) {
	if logger == nil {
		return
	}
	logger.Warn("budget cap reached",
		slog.String("stage_id", stageID),
		slog.Float64("spent_usd", spentUSD),
		slog.Float64("cap_usd", capUSD),
	)
}

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with run_id and stage_id fields.
func EnrichLogger(logger *slog.Logger, runID, stageID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("stage_id", stageID),
	)
}
