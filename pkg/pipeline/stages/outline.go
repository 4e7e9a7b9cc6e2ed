package stages

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// Outline returns the master-outline stage. It turns the selected
// concept into a chapter/scene plan sized by the project configuration.
func Outline() pipeline.Stage {
	return pipeline.Stage{
		ID:       StageOutline,
		Billable: true,
		Estimate: func(ctx pipeline.Context, _ *state.PipelineState) float64 {
			return perCallEstimate(ctx)
		},
		Run: runOutline,
	}
}

func runOutline(ctx pipeline.Context, st *state.PipelineState) (*pipeline.StageOutput, error) {
	if st.HighConcept == nil {
		return nil, fmt.Errorf("outline stage requires a selected high concept")
	}

	resp, err := generate(ctx, outlinePrompt(ctx, st), outlineSystemPrompt)
	if err != nil {
		return nil, err
	}

	var outline state.Outline
	if err := decodeJSON(backendName(ctx), resp.Content, &outline); err != nil {
		return partialOutput(resp.TokensUsed, resp.CostUSD), err
	}
	if err := normalizeOutline(&outline, cfgChapters(ctx), cfgScenes(ctx), backendName(ctx)); err != nil {
		return partialOutput(resp.TokensUsed, resp.CostUSD), err
	}

	return &pipeline.StageOutput{
		Mutation: &state.Mutation{
			Outline: &outline,
			CostUSD: resp.CostUSD,
		},
		TokensUsed: resp.TokensUsed,
	}, nil
}

const outlineSystemPrompt = "You are a story architect. Respond with a single JSON object: " +
	`{"premise": ..., "chapters": [{"chapter": 1, "title": ..., "summary": ..., ` +
	`"scenes": [{"scene_number": 1, "pov": ..., "summary": ...}]}]}.`

func outlinePrompt(ctx pipeline.Context, st *state.PipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Outline the novel %q.\n", st.HighConcept.Title)
	fmt.Fprintf(&b, "Logline: %s\n", st.HighConcept.Logline)
	fmt.Fprintf(&b, "Plan exactly %d chapters with %d scenes each.\n", cfgChapters(ctx), cfgScenes(ctx))
	b.WriteString("Every scene needs a POV character and a one-sentence summary.\n")
	return b.String()
}

// normalizeOutline renumbers chapters and scenes sequentially and
// rejects outlines that do not match the configured shape.
func normalizeOutline(o *state.Outline, chapters, scenes int, backend string) error {
	if len(o.Chapters) != chapters {
		return llm.MalformedOutput(backend,
			fmt.Sprintf("outline has %d chapters, want %d", len(o.Chapters), chapters), nil)
	}
	for i := range o.Chapters {
		ch := &o.Chapters[i]
		ch.Chapter = i + 1
		if len(ch.Scenes) != scenes {
			return llm.MalformedOutput(backend,
				fmt.Sprintf("chapter %d has %d scenes, want %d", ch.Chapter, len(ch.Scenes), scenes), nil)
		}
		for j := range ch.Scenes {
			sc := &ch.Scenes[j]
			sc.SceneNumber = j + 1
			if strings.TrimSpace(sc.POV) == "" {
				return llm.MalformedOutput(backend,
					fmt.Sprintf("chapter %d scene %d has no POV", ch.Chapter, sc.SceneNumber), nil)
			}
		}
	}
	return nil
}

func cfgChapters(ctx pipeline.Context) int {
	if cfg := ctx.Config(); cfg != nil {
		return cfg.Project.Chapters
	}
	return 1
}

func cfgScenes(ctx pipeline.Context) int {
	if cfg := ctx.Config(); cfg != nil {
		return cfg.Project.ScenesPerChapter
	}
	return 1
}
