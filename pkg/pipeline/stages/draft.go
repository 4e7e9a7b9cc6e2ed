package stages

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// DraftChapters returns one drafting stage per chapter, all tagged with
// DraftGroup so they fan out together. Each stage writes only its own
// chapter's scenes, which keeps the group merge conflict-free.
func DraftChapters(chapters int) []pipeline.Stage {
	stages := make([]pipeline.Stage, 0, chapters)
	for ch := 1; ch <= chapters; ch++ {
		stages = append(stages, draftChapter(ch))
	}
	return stages
}

// DraftStageID names the drafting stage for a chapter.
func DraftStageID(chapter int) string {
	return fmt.Sprintf("draft_chapter_%02d", chapter)
}

func draftChapter(chapter int) pipeline.Stage {
	return pipeline.Stage{
		ID:       DraftStageID(chapter),
		Group:    DraftGroup,
		Billable: true,
		Estimate: func(ctx pipeline.Context, st *state.PipelineState) float64 {
			return float64(cfgScenes(ctx)) * perCallEstimate(ctx)
		},
		Run: func(ctx pipeline.Context, st *state.PipelineState) (*pipeline.StageOutput, error) {
			return runDraftChapter(ctx, st, chapter)
		},
	}
}

func runDraftChapter(ctx pipeline.Context, st *state.PipelineState, chapter int) (*pipeline.StageOutput, error) {
	plan, err := chapterPlan(st, chapter)
	if err != nil {
		return nil, err
	}

	var (
		scenes []state.Scene
		tokens int
		cost   float64
	)
	for _, so := range plan.Scenes {
		resp, err := generate(ctx, scenePrompt(st, plan, so), draftSystemPrompt)
		if err != nil {
			return partialOutput(tokens, cost), err
		}
		tokens += resp.TokensUsed
		cost += resp.CostUSD

		content := strings.TrimSpace(resp.Content)
		if content == "" {
			return partialOutput(tokens, cost),
				llm.MalformedOutput(backendName(ctx), fmt.Sprintf("empty draft for %s",
					state.SceneID(chapter, so.SceneNumber)), nil)
		}

		sc := state.NewScene(chapter, so.SceneNumber)
		sc.POV = so.POV
		sc.Content = content
		sc.Meta = map[string]string{"summary": so.Summary}
		scenes = append(scenes, sc)
	}

	return &pipeline.StageOutput{
		Mutation: &state.Mutation{
			Scenes:  scenes,
			CostUSD: cost,
		},
		TokensUsed: tokens,
	}, nil
}

func chapterPlan(st *state.PipelineState, chapter int) (*state.ChapterOutline, error) {
	if st.MasterOutline == nil {
		return nil, fmt.Errorf("drafting chapter %d requires a master outline", chapter)
	}
	for i := range st.MasterOutline.Chapters {
		if st.MasterOutline.Chapters[i].Chapter == chapter {
			return &st.MasterOutline.Chapters[i], nil
		}
	}
	return nil, fmt.Errorf("master outline has no chapter %d", chapter)
}

const draftSystemPrompt = "You are a novelist drafting one scene at a time. " +
	"Respond with prose only: no headings, no notes, no JSON."

func scenePrompt(st *state.PipelineState, ch *state.ChapterOutline, so state.SceneOutline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft scene %d of chapter %d (%q).\n", so.SceneNumber, ch.Chapter, ch.Title)
	fmt.Fprintf(&b, "POV: %s\n", so.POV)
	fmt.Fprintf(&b, "Scene summary: %s\n", so.Summary)
	fmt.Fprintf(&b, "Chapter summary: %s\n", ch.Summary)
	if len(st.Characters) > 0 {
		b.WriteString("Cast: ")
		names := make([]string, len(st.Characters))
		for i, c := range st.Characters {
			names[i] = c.Name
		}
		b.WriteString(strings.Join(names, ", "))
		b.WriteString("\n")
	}
	return b.String()
}
