package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/randalmurphal/novelforge/pkg/pipeline/quality"
)

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	// RunCompleted means every stage committed.
	RunCompleted RunStatus = "completed"
	// RunFailed means a stage failed fatally; the last checkpoint is intact.
	RunFailed RunStatus = "failed"
	// RunInterrupted means the run was cancelled or timed out.
	// Distinct from failed: resume behaves like a clean restart.
	RunInterrupted RunStatus = "interrupted"
	// RunBudgetExceeded means the spend cap gated a billable stage.
	// Fatal to the run, not the project; resumable once the cap is raised.
	RunBudgetExceeded RunStatus = "budget_exceeded"
)

// StageStatus is the outcome of one stage invocation.
type StageStatus string

const (
	// StageSuccess means the stage committed.
	StageSuccess StageStatus = "success"
	// StageFailed means the stage returned an error.
	StageFailed StageStatus = "failed"
	// StageSkipped means the stage had already committed before this run.
	StageSkipped StageStatus = "skipped"
)

// StageResult records one stage invocation for the run report.
// Never persisted standalone; folded into the report.
type StageResult struct {
	StageID    string      `json:"stage_id"`
	Status     StageStatus `json:"status"`
	TokensUsed int         `json:"tokens_used,omitempty"`
	CostUSD    float64     `json:"cost_usd,omitempty"`
	DurationMs float64     `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`

	// Payload is the stage-specific output record, if any.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Findings are quality findings surfaced by the stage.
	Findings []quality.Finding `json:"findings,omitempty"`
}

// RunReport lists every StageResult in execution order plus run totals.
// Written as JSON after the run halts or completes.
type RunReport struct {
	RunID       string    `json:"run_id"`
	ProjectPath string    `json:"project_path"`
	Status      RunStatus `json:"status"`
	Resumed     bool      `json:"resumed,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Stages []StageResult `json:"stages"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int     `json:"total_tokens"`

	// Error describes the halt cause when Status is not completed.
	Error string `json:"error,omitempty"`
	// LastStage is the stage the run halted at, if any.
	LastStage string `json:"last_stage,omitempty"`
}

// ReportFilename is the run report's well-known name under the project
// directory.
const ReportFilename = "run_report.json"

// Write serializes the report to the project directory.
func (r *RunReport) Write(projectDir string) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	path := filepath.Join(projectDir, ReportFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	return path, nil
}

// ReadReport loads a previously written run report.
func ReadReport(projectDir string) (*RunReport, error) {
	path := filepath.Join(projectDir, ReportFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run report: %w", err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse run report %s: %w", path, err)
	}
	return &r, nil
}

// Render writes the report as a human-readable table.
func (r *RunReport) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Stage", "Status", "Tokens", "Cost (USD)", "Duration", "Error"})
	for _, sr := range r.Stages {
		errText := sr.Error
		if len(sr.Findings) > 0 {
			errText = fmt.Sprintf("%s (%d findings)", errText, len(sr.Findings))
		}
		t.AppendRow(table.Row{
			sr.StageID,
			string(sr.Status),
			sr.TokensUsed,
			fmt.Sprintf("%.4f", sr.CostUSD),
			fmt.Sprintf("%.0fms", sr.DurationMs),
			errText,
		})
	}
	t.AppendFooter(table.Row{
		"total", string(r.Status), r.TotalTokens,
		fmt.Sprintf("%.4f", r.TotalCostUSD),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
		r.Error,
	})
	t.Render()
}
