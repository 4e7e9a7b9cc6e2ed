package pipeline

import (
	"encoding/json"

	"github.com/randalmurphal/novelforge/pkg/pipeline/quality"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// StageFunc is a stage body: a pure function of the current state and
// the injected dependencies on the Context. It returns the writes it
// wants applied rather than mutating the state it was handed.
//
// The state argument is read-only and must not be retained beyond the
// call. Grouped stages receive independent snapshots.
type StageFunc func(ctx Context, st *state.PipelineState) (*StageOutput, error)

// StageOutput is what a stage body hands back to the orchestrator.
type StageOutput struct {
	// Mutation is the set of state writes to commit. Nil means the
	// stage wrote nothing.
	Mutation *state.Mutation

	// TokensUsed is the total token count across the stage's model calls.
	TokensUsed int

	// Payload is an optional stage-specific record for the run report.
	Payload json.RawMessage

	// Findings are quality findings to surface in the run report.
	// A stage may report findings and still fail.
	Findings []quality.Finding
}

// Stage is one named, ordered unit of pipeline work.
type Stage struct {
	// ID uniquely identifies the stage within the plan.
	ID string

	// Group is an optional parallel-group tag. Contiguous stages with
	// the same tag fan out together and fan in before the group
	// checkpoint. Grouped stages must write disjoint state fields.
	Group string

	// Billable marks stages that incur model cost. Billable stages are
	// gated on the budget ledger before execution.
	Billable bool

	// Estimate returns the stage's worst-case planned cost in USD.
	// Nil means no estimate; the gate then checks only the cap itself.
	Estimate func(ctx Context, st *state.PipelineState) float64

	// Run is the stage body.
	Run StageFunc
}

// Plan is a statically declared, ordered list of stages.
type Plan struct {
	stages  []Stage
	batches [][]Stage
}

// NewPlan validates the stage list and precomputes execution batches.
//
// Validation rules:
//   - at least one stage
//   - every stage has a non-empty ID and a body
//   - IDs are unique
//   - a group tag names one contiguous block (a tag may not reappear
//     after a stage outside the group)
func NewPlan(stages ...Stage) (*Plan, error) {
	if len(stages) == 0 {
		return nil, ErrEmptyPlan
	}

	seen := make(map[string]bool, len(stages))
	closedGroups := make(map[string]bool)
	prevGroup := ""
	for _, s := range stages {
		if s.ID == "" {
			return nil, &PlanError{Detail: "stage with empty id"}
		}
		if s.Run == nil {
			return nil, &PlanError{StageID: s.ID, Detail: "nil stage body"}
		}
		if seen[s.ID] {
			return nil, &PlanError{StageID: s.ID, Detail: "duplicate stage id"}
		}
		seen[s.ID] = true

		if s.Group != prevGroup {
			if prevGroup != "" {
				closedGroups[prevGroup] = true
			}
			if s.Group != "" && closedGroups[s.Group] {
				return nil, &PlanError{
					StageID: s.ID,
					Detail:  "group " + s.Group + " is not contiguous",
				}
			}
			prevGroup = s.Group
		}
	}

	p := &Plan{stages: stages}
	p.batches = computeBatches(stages)
	return p, nil
}

// Stages returns the declared stage list in order.
func (p *Plan) Stages() []Stage { return p.stages }

// StageIDs returns the declared stage ids in order.
func (p *Plan) StageIDs() []string {
	ids := make([]string, len(p.stages))
	for i, s := range p.stages {
		ids[i] = s.ID
	}
	return ids
}

// computeBatches groups contiguous same-group stages into one batch.
// Ungrouped stages are single-member batches.
func computeBatches(stages []Stage) [][]Stage {
	var batches [][]Stage
	for i := 0; i < len(stages); {
		if stages[i].Group == "" {
			batches = append(batches, stages[i:i+1])
			i++
			continue
		}
		j := i + 1
		for j < len(stages) && stages[j].Group == stages[i].Group {
			j++
		}
		batches = append(batches, stages[i:j])
		i = j
	}
	return batches
}
