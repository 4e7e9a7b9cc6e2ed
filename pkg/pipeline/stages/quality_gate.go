package stages

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/quality"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// QualityGate returns the final enforcement stage. It runs every
// deterministic quality pass and fails the run when any pass fails or
// cannot be evaluated. The findings land in the run report either way.
func QualityGate() pipeline.Stage {
	return pipeline.Stage{
		ID:  StageQualityGate,
		Run: runQualityGate,
	}
}

func runQualityGate(ctx pipeline.Context, st *state.PipelineState) (*pipeline.StageOutput, error) {
	results := quality.Run(quality.DefaultPasses(), st.Scenes, st.MasterOutline, ctx.Config())

	payload, _ := json.Marshal(results)
	output := &pipeline.StageOutput{
		Payload:  payload,
		Findings: quality.Failures(results),
	}

	for _, r := range results {
		if r.Status == quality.StatusInconclusive {
			return output, fmt.Errorf("quality pass %s inconclusive: %s", r.PassName, r.Reason)
		}
	}
	if findings := quality.Failures(results); len(findings) > 0 {
		return output, fmt.Errorf("quality gate: %d findings, first: %s", len(findings), findings[0])
	}
	return output, nil
}
