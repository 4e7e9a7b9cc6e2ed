package stages

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// Characters returns the cast-development stage. It derives the
// principal characters from the concept and outline.
func Characters() pipeline.Stage {
	return pipeline.Stage{
		ID:       StageCharacters,
		Billable: true,
		Estimate: func(ctx pipeline.Context, _ *state.PipelineState) float64 {
			return perCallEstimate(ctx)
		},
		Run: runCharacters,
	}
}

func runCharacters(ctx pipeline.Context, st *state.PipelineState) (*pipeline.StageOutput, error) {
	if st.MasterOutline == nil {
		return nil, fmt.Errorf("characters stage requires a master outline")
	}

	resp, err := generate(ctx, charactersPrompt(st), charactersSystemPrompt)
	if err != nil {
		return nil, err
	}

	var cast []state.Character
	if err := decodeJSON(backendName(ctx), resp.Content, &cast); err != nil {
		return partialOutput(resp.TokensUsed, resp.CostUSD), err
	}
	if len(cast) == 0 {
		return partialOutput(resp.TokensUsed, resp.CostUSD),
			llm.MalformedOutput(backendName(ctx), "empty character list", nil)
	}
	for i, c := range cast {
		if strings.TrimSpace(c.Name) == "" {
			return partialOutput(resp.TokensUsed, resp.CostUSD),
				llm.MalformedOutput(backendName(ctx), fmt.Sprintf("character %d has no name", i), nil)
		}
	}

	return &pipeline.StageOutput{
		Mutation: &state.Mutation{
			Characters: cast,
			CostUSD:    resp.CostUSD,
		},
		TokensUsed: resp.TokensUsed,
	}, nil
}

const charactersSystemPrompt = "You are a character designer. Respond with a single JSON array: " +
	`[{"name": ..., "role": ..., "bio": ..., "voice": ...}].`

func charactersPrompt(st *state.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design the principal cast for %q.\n", st.HighConcept.Title)
	fmt.Fprintf(&b, "Premise: %s\n", st.MasterOutline.Premise)

	// Every POV named by the outline must exist in the cast.
	povs := make(map[string]bool)
	for _, ch := range st.MasterOutline.Chapters {
		for _, sc := range ch.Scenes {
			if sc.POV != "" && !povs[sc.POV] {
				povs[sc.POV] = true
				fmt.Fprintf(&b, "Include the POV character %q.\n", sc.POV)
			}
		}
	}
	return b.String()
}
