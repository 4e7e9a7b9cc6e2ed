package stages

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/quality"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// Revision returns the targeted-revision stage. It runs the
// deterministic quality passes and re-drafts only the scenes with
// repairable findings: undrafted or empty scenes, and scenes whose POV
// diverged from the outline. Integrity faults (mismatched or duplicate
// scene ids) are not repairable by regeneration and are left for the
// quality gate to report.
func Revision() pipeline.Stage {
	return pipeline.Stage{
		ID:       StageRevision,
		Billable: true,
		Estimate: func(ctx pipeline.Context, st *state.PipelineState) float64 {
			results := quality.Run(quality.DefaultPasses(), st.Scenes, st.MasterOutline, ctx.Config())
			return float64(len(repairable(quality.Failures(results)))) * perCallEstimate(ctx)
		},
		Run: runRevision,
	}
}

func runRevision(ctx pipeline.Context, st *state.PipelineState) (*pipeline.StageOutput, error) {
	results := quality.Run(quality.DefaultPasses(), st.Scenes, st.MasterOutline, ctx.Config())
	targets := repairable(quality.Failures(results))
	if len(targets) == 0 {
		return &pipeline.StageOutput{}, nil
	}

	var (
		scenes []state.Scene
		tokens int
		cost   float64
	)
	for _, f := range targets {
		chapter, sceneNumber, ok := sceneCoords(f.SceneID)
		if !ok {
			continue
		}
		plan, err := chapterPlan(st, chapter)
		if err != nil {
			return partialOutput(tokens, cost), err
		}
		so, ok := plannedScene(plan, sceneNumber)
		if !ok {
			continue
		}

		resp, err := generate(ctx, revisionPrompt(st, plan, so, f), draftSystemPrompt)
		if err != nil {
			return partialOutput(tokens, cost), err
		}
		tokens += resp.TokensUsed
		cost += resp.CostUSD

		sc := state.NewScene(chapter, sceneNumber)
		sc.POV = so.POV
		sc.Content = strings.TrimSpace(resp.Content)
		sc.Meta = map[string]string{"summary": so.Summary, "revised_for": f.Rule}
		scenes = append(scenes, sc)
	}

	return &pipeline.StageOutput{
		Mutation: &state.Mutation{
			Scenes:  scenes,
			CostUSD: cost,
		},
		TokensUsed: tokens,
		Findings:   targets,
	}, nil
}

// repairable filters findings to those regeneration can fix.
func repairable(findings []quality.Finding) []quality.Finding {
	var out []quality.Finding
	for _, f := range findings {
		switch f.Rule {
		case "outline_coverage", "pov_consistency":
			out = append(out, f)
		}
	}
	return out
}

func sceneCoords(sceneID string) (chapter, sceneNumber int, ok bool) {
	n, err := fmt.Sscanf(sceneID, "ch%02d_s%02d", &chapter, &sceneNumber)
	return chapter, sceneNumber, err == nil && n == 2
}

func plannedScene(ch *state.ChapterOutline, sceneNumber int) (state.SceneOutline, bool) {
	for _, so := range ch.Scenes {
		if so.SceneNumber == sceneNumber {
			return so, true
		}
	}
	return state.SceneOutline{}, false
}

func revisionPrompt(st *state.PipelineState, ch *state.ChapterOutline, so state.SceneOutline, f quality.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rewrite scene %d of chapter %d (%q).\n", so.SceneNumber, ch.Chapter, ch.Title)
	fmt.Fprintf(&b, "POV: %s\n", so.POV)
	fmt.Fprintf(&b, "Scene summary: %s\n", so.Summary)
	fmt.Fprintf(&b, "Problem with the previous draft: %s\n", f.Detail)
	if sc, ok := st.SceneAt(ch.Chapter, so.SceneNumber); ok && strings.TrimSpace(sc.Content) != "" {
		fmt.Fprintf(&b, "Previous draft:\n%s\n", sc.Content)
	}
	return b.String()
}
