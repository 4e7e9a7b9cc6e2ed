// Package pipeline drives the staged generation of a manuscript: it
// executes a statically declared plan of stages against a PipelineState,
// checkpoints after every commit, gates billable stages on the budget
// ledger, and makes resume the same code path as a fresh run.
package pipeline

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/randalmurphal/novelforge/pkg/pipeline/checkpoint"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/observability"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// Orchestrator executes a Plan against one project.
//
// The orchestrator owns the PipelineState for the duration of a run.
// Stage bodies receive snapshots (or the live state, read-only, when
// running alone) and return mutations; nothing else writes state.
type Orchestrator struct {
	plan        *Plan
	manager     *checkpoint.Manager
	projectPath string

	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets the metrics sink. Defaults to NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the span manager. Defaults to NoopSpanManager.
func WithSpans(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// New creates an orchestrator for a plan and a project's checkpoint
// manager. projectPath identifies the project and is recorded in state.
func New(plan *Plan, manager *checkpoint.Manager, projectPath string, opts ...Option) (*Orchestrator, error) {
	if plan == nil {
		return nil, ErrEmptyPlan
	}
	if manager == nil {
		return nil, &PlanError{Detail: "nil checkpoint manager"}
	}
	if projectPath == "" {
		return nil, &PlanError{Detail: "empty project path"}
	}

	o := &Orchestrator{
		plan:        plan,
		manager:     manager,
		projectPath: projectPath,
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes all stages not yet committed, in declared order.
//
// With resume true, state is reconstructed from the latest checkpoint
// and already-committed stages are skipped; with no checkpoint present
// the run starts fresh. The two paths are otherwise identical.
//
// Run always returns a report, including on failure. The returned state
// is the in-memory state at the point the run stopped; on failure the
// last durable checkpoint may be older.
func (o *Orchestrator) Run(ctx Context, resume bool) (report *RunReport, st *state.PipelineState, runErr error) {
	if ctx == nil {
		return nil, nil, ErrNilContext
	}

	start := time.Now()
	runID := ctx.RunID()
	logger := ctx.Logger()

	report = &RunReport{
		RunID:       runID,
		ProjectPath: o.projectPath,
		Status:      RunCompleted,
		Resumed:     resume,
		StartedAt:   start,
	}

	observability.LogRunStart(logger, runID, o.projectPath, resume)

	execCtx, runSpan := o.spans.StartRunSpan(ctx, o.projectPath, runID)
	defer func() {
		o.spans.EndSpanWithError(runSpan, runErr)
	}()

	st, runErr = o.initialState(resume)
	if runErr == nil {
		o.primeLedger(ctx, st)
		runErr = o.runBatches(ctx, execCtx, st, report)
	}

	duration := time.Since(start)
	report.FinishedAt = time.Now()
	if st != nil {
		report.TotalCostUSD = st.TotalCostUSD
	}
	for _, sr := range report.Stages {
		report.TotalTokens += sr.TokensUsed
	}

	o.metrics.RecordPipelineRun(ctx, runErr == nil, duration)

	if runErr != nil {
		report.Status = statusForError(runErr)
		report.Error = runErr.Error()
		report.LastStage = lastStage(runErr)
		observability.LogRunError(logger, runID, runErr, float64(duration.Milliseconds()), report.LastStage)
		return report, st, runErr
	}

	observability.LogRunComplete(logger, runID, float64(duration.Milliseconds()),
		len(report.Stages), report.TotalCostUSD)
	return report, st, nil
}

// initialState loads the latest checkpoint on resume, or creates a
// fresh state. Resume with no checkpoint starts fresh; a corrupt
// checkpoint fails loudly instead.
func (o *Orchestrator) initialState(resume bool) (*state.PipelineState, error) {
	if !resume {
		return state.New(o.projectPath), nil
	}
	st, err := o.manager.Load()
	if pipeerrors.Is(err, checkpoint.ErrNotFound) {
		return state.New(o.projectPath), nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// primeLedger charges prior spend from a resumed state against the cap,
// so a resumed run cannot overshoot the budget the fresh run respected.
func (o *Orchestrator) primeLedger(ctx Context, st *state.PipelineState) {
	ledger := ctx.Ledger()
	if ledger == nil || st == nil {
		return
	}
	if prior := st.TotalCostUSD - ledger.SpentUSD(); prior > 0 {
		_ = ledger.RecordCost(prior)
	}
}

// runBatches executes the plan's batches against the state.
func (o *Orchestrator) runBatches(ctx Context, execCtx context.Context, st *state.PipelineState, report *RunReport) error {
	logger := ctx.Logger()

	for _, batch := range o.plan.batches {
		var runnable []Stage
		for _, s := range batch {
			if st.StageCompleted(s.ID) {
				observability.LogStageSkipped(logger, s.ID)
				report.Stages = append(report.Stages, StageResult{StageID: s.ID, Status: StageSkipped})
				continue
			}
			runnable = append(runnable, s)
		}
		if len(runnable) == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return &pipeerrors.InterruptedError{StageID: runnable[0].ID, Cause: err}
		}

		if err := o.gateBudget(ctx, st, runnable, report); err != nil {
			return err
		}

		outputs, err := o.executeBatch(ctx, execCtx, st, runnable, report)
		if err != nil {
			return err
		}

		if err := o.commit(ctx, st, runnable, outputs, report); err != nil {
			return err
		}
	}
	return nil
}

// gateBudget checks every billable runnable stage against the ledger
// before any batch member executes. A cap of zero admits no billable
// stage at all.
func (o *Orchestrator) gateBudget(ctx Context, st *state.PipelineState, runnable []Stage, report *RunReport) error {
	ledger := ctx.Ledger()
	if ledger == nil {
		return nil
	}
	for _, s := range runnable {
		if !s.Billable {
			continue
		}
		var estimate float64
		if s.Estimate != nil {
			estimate = s.Estimate(ctx, st)
		}
		if ledger.FreeOnly() || !ledger.CheckBudget(estimate) {
			observability.LogBudgetGate(ctx.Logger(), s.ID, ledger.SpentUSD(), ledger.CapUSD())
			err := &pipeerrors.BudgetExceededError{
				StageID:     s.ID,
				SpentUSD:    ledger.SpentUSD(),
				CapUSD:      ledger.CapUSD(),
				EstimateUSD: estimate,
			}
			report.Stages = append(report.Stages, StageResult{
				StageID: s.ID,
				Status:  StageFailed,
				Error:   err.Error(),
			})
			return err
		}
	}
	return nil
}

// stageOutcome is one stage invocation's result before commit.
type stageOutcome struct {
	output     *StageOutput
	durationMs float64
	err        error
}

// executeBatch runs the batch members and returns their outputs in
// declared order. Single stages run against the live state; grouped
// stages fan out against independent snapshots and fan in here.
func (o *Orchestrator) executeBatch(ctx Context, execCtx context.Context, st *state.PipelineState, runnable []Stage, report *RunReport) ([]*StageOutput, error) {
	outcomes := make([]stageOutcome, len(runnable))

	if len(runnable) == 1 {
		outcomes[0] = o.executeStage(ctx, execCtx, runnable[0], st)
	} else {
		snapshots := make([]*state.PipelineState, len(runnable))
		for i := range runnable {
			snap, err := st.Clone()
			if err != nil {
				return nil, &StageError{StageID: runnable[i].ID, Err: err}
			}
			snapshots[i] = snap
		}

		var wg sync.WaitGroup
		for i := range runnable {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = o.executeStage(ctx, execCtx, runnable[i], snapshots[i])
			}(i)
		}
		wg.Wait()
	}

	// Surface the first failure in declared order; record every member.
	// Successful siblings of a failed member still spent tokens and
	// budget, so they get report entries too, marked failed with their
	// mutations discarded. None of them reach completed_stages.
	var firstErr error
	for _, oc := range outcomes {
		if oc.err != nil {
			firstErr = oc.err
			break
		}
	}
	if firstErr != nil {
		for i, oc := range outcomes {
			sr := stageResultFor(runnable[i].ID, oc, StageFailed)
			if oc.err == nil {
				sr.Error = "discarded: parallel group halted before commit"
			}
			report.Stages = append(report.Stages, sr)
		}
		return nil, firstErr
	}

	outputs := make([]*StageOutput, len(runnable))
	for i, oc := range outcomes {
		outputs[i] = oc.output
	}

	// Grouped stages must write disjoint fields.
	if len(runnable) > 1 {
		for i := 0; i < len(outputs); i++ {
			for j := i + 1; j < len(outputs); j++ {
				var mi, mj *state.Mutation
				if outputs[i] != nil {
					mi = outputs[i].Mutation
				}
				if outputs[j] != nil {
					mj = outputs[j].Mutation
				}
				if conflicts := mi.Conflicts(mj); len(conflicts) > 0 {
					return nil, &GroupConflictError{
						Group:  runnable[i].Group,
						StageA: runnable[i].ID,
						StageB: runnable[j].ID,
						Fields: conflicts,
					}
				}
			}
		}
	}

	for i, oc := range outcomes {
		report.Stages = append(report.Stages, stageResultFor(runnable[i].ID, oc, StageSuccess))
	}
	return outputs, nil
}

// executeStage runs one stage body with panic recovery, timing, span,
// and metrics.
func (o *Orchestrator) executeStage(ctx Context, execCtx context.Context, s Stage, st *state.PipelineState) stageOutcome {
	logger := ctx.Logger()
	observability.LogStageStart(logger, s.ID)

	stageCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		stageCtx = ec.withStageID(s.ID)
	}

	_, span := o.spans.StartStageSpan(execCtx, s.ID)

	stageStart := time.Now()
	output, err := runStageBody(stageCtx, s, st)
	duration := time.Since(stageStart)
	durationMs := float64(duration.Milliseconds())

	o.metrics.RecordStageExecution(ctx, s.ID, duration, err)
	o.spans.EndSpanWithError(span, err)

	if err != nil {
		observability.LogStageError(logger, s.ID, err)
		return stageOutcome{output: output, durationMs: durationMs, err: wrapStageErr(s.ID, err)}
	}

	var cost float64
	if output != nil && output.Mutation != nil {
		cost = output.Mutation.CostUSD
	}
	observability.LogStageComplete(logger, s.ID, durationMs, cost)
	return stageOutcome{output: output, durationMs: durationMs}
}

// runStageBody invokes the stage body, converting panics to errors.
func runStageBody(ctx Context, s Stage, st *state.PipelineState) (output *StageOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &PanicError{
				StageID: s.ID,
				Value:   r,
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return s.Run(ctx, st)
}

// commit merges the batch outputs into state in declared order, marks
// the members completed, and writes a single checkpoint. A stage id
// reaches completed_stages only in the same snapshot the checkpoint
// persists, so durable storage never lags the in-memory set.
func (o *Orchestrator) commit(ctx Context, st *state.PipelineState, runnable []Stage, outputs []*StageOutput, report *RunReport) error {
	for i, out := range outputs {
		if out == nil || out.Mutation == nil {
			continue
		}
		if err := out.Mutation.Apply(st); err != nil {
			return &StageError{StageID: runnable[i].ID, Err: err}
		}
	}
	for _, s := range runnable {
		st.MarkCompleted(s.ID)
	}

	commitID := runnable[len(runnable)-1].ID
	if err := o.manager.Save(st, commitID); err != nil {
		return &StageError{StageID: commitID, Err: err}
	}

	observability.LogCheckpoint(ctx.Logger(), commitID, o.manager.Sequence())
	o.metrics.RecordCheckpoint(ctx, commitID, int64(o.manager.LastSize()))

	for _, out := range outputs {
		if out == nil || out.Mutation == nil || out.Mutation.CostUSD <= 0 {
			continue
		}
		if client := ctx.LLM(); client != nil {
			o.metrics.RecordLLMCost(ctx, client.Backend(), out.Mutation.CostUSD, out.TokensUsed)
		}
	}
	return nil
}

// stageResultFor builds a report entry from one outcome.
func stageResultFor(stageID string, oc stageOutcome, status StageStatus) StageResult {
	sr := StageResult{
		StageID:    stageID,
		Status:     status,
		DurationMs: oc.durationMs,
	}
	if oc.output != nil {
		sr.TokensUsed = oc.output.TokensUsed
		sr.Payload = oc.output.Payload
		sr.Findings = oc.output.Findings
		if oc.output.Mutation != nil {
			sr.CostUSD = oc.output.Mutation.CostUSD
		}
	}
	if oc.err != nil {
		sr.Error = oc.err.Error()
	}
	return sr
}

// wrapStageErr attributes an error to a stage exactly once.
// Interrupted and budget errors keep their own types at the top so the
// exit-code mapping sees them.
func wrapStageErr(stageID string, err error) error {
	var interrupted *pipeerrors.InterruptedError
	if pipeerrors.As(err, &interrupted) {
		if interrupted.StageID == "" {
			return &pipeerrors.InterruptedError{StageID: stageID, Cause: interrupted.Cause}
		}
		return err
	}
	var budget *pipeerrors.BudgetExceededError
	if pipeerrors.As(err, &budget) {
		return err
	}
	var stageErr *StageError
	if pipeerrors.As(err, &stageErr) {
		return err
	}
	var panicErr *PanicError
	if pipeerrors.As(err, &panicErr) {
		return err
	}
	return &StageError{StageID: stageID, Err: err}
}

// statusForError maps a halt cause to the run status.
func statusForError(err error) RunStatus {
	var interrupted *pipeerrors.InterruptedError
	if pipeerrors.As(err, &interrupted) {
		return RunInterrupted
	}
	if pipeerrors.Categorize(err) == pipeerrors.CategoryBudget {
		return RunBudgetExceeded
	}
	return RunFailed
}

// lastStage extracts the stage a halt is attributed to, if any.
func lastStage(err error) string {
	var stageErr *StageError
	if pipeerrors.As(err, &stageErr) {
		return stageErr.StageID
	}
	var panicErr *PanicError
	if pipeerrors.As(err, &panicErr) {
		return panicErr.StageID
	}
	var interrupted *pipeerrors.InterruptedError
	if pipeerrors.As(err, &interrupted) {
		return interrupted.StageID
	}
	var budget *pipeerrors.BudgetExceededError
	if pipeerrors.As(err, &budget) {
		return budget.StageID
	}
	return ""
}
