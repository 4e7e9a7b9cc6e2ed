package stages_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/novelforge/pkg/pipeline"
	"github.com/randalmurphal/novelforge/pkg/pipeline/budget"
	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/llm"
	"github.com/randalmurphal/novelforge/pkg/pipeline/stages"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

const conceptJSON = `{"title":"Glass Harbor","logline":"A tide-locked city dredges up the ship it sank to hide its founding crime, and the harbormaster who ordered the sinking must decide what surfaces with it."}`

func outlineJSON(chapters, scenes int) string {
	var b strings.Builder
	b.WriteString(`{"premise":"a buried crime resurfaces","chapters":[`)
	for ch := 1; ch <= chapters; ch++ {
		if ch > 1 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"chapter":%d,"title":"Chapter %d","summary":"things escalate","scenes":[`, ch, ch)
		for sc := 1; sc <= scenes; sc++ {
			if sc > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"scene_number":%d,"pov":"Mara","summary":"scene %d-%d"}`, sc, ch, sc)
		}
		b.WriteString("]}")
	}
	b.WriteString("]}")
	return b.String()
}

const castJSON = `[{"name":"Mara","role":"protagonist","voice":"clipped"},{"name":"Dev","role":"foil"}]`

// storyScript answers each request by the system prompt that shaped it.
func storyScript(chapters, scenes int) llm.ScriptFunc {
	return func(_ int, req llm.Request) (*llm.Response, error) {
		var content string
		switch {
		case strings.Contains(req.SystemPrompt, "high-concept"):
			content = conceptJSON
		case strings.Contains(req.SystemPrompt, "story architect"):
			content = outlineJSON(chapters, scenes)
		case strings.Contains(req.SystemPrompt, "character designer"):
			content = castJSON
		default:
			content = "The tide pulled back and the masts came up black with silt."
		}
		return &llm.Response{Content: content, TokensUsed: 100, CostUSD: 0.01}, nil
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Project.Title = "Glass Harbor"
	cfg.Project.Genre = "mystery"
	cfg.Project.Chapters = 2
	cfg.Project.ScenesPerChapter = 2
	cfg.LLM.Backend = "scripted"
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func testContext(t *testing.T, cfg *config.Config, client llm.Client) pipeline.Context {
	t.Helper()
	return pipeline.NewContext(context.Background(),
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		pipeline.WithLLM(client),
		pipeline.WithLedger(budget.NewLedger(cfg.Budget.CapUSD)),
		pipeline.WithPolicy(cfg.Policy()),
		pipeline.WithConfig(cfg),
	)
}

func preparedState(t *testing.T, cfg *config.Config) *state.PipelineState {
	t.Helper()
	st := state.New("/tmp/glass-harbor")
	client := llm.NewScriptedClient("scripted", storyScript(cfg.Project.Chapters, cfg.Project.ScenesPerChapter))
	ctx := testContext(t, cfg, client)

	for _, s := range []pipeline.Stage{stages.HighConcept(), stages.Outline(), stages.Characters()} {
		out, err := s.Run(ctx, st)
		require.NoError(t, err)
		require.NoError(t, out.Mutation.Apply(st))
		st.MarkCompleted(s.ID)
	}
	return st
}

func TestHighConcept(t *testing.T) {
	cfg := testConfig()

	t.Run("selects passing candidate", func(t *testing.T) {
		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		out, err := stages.HighConcept().Run(ctx, state.New("/p"))
		require.NoError(t, err)
		require.NotNil(t, out.Mutation.HighConcept)
		assert.Equal(t, "Glass Harbor", out.Mutation.HighConcept.Title)
		assert.NotEmpty(t, out.Mutation.HighConceptFingerprint)
		assert.Len(t, out.Mutation.HighConceptCandidates, cfg.HighConcept.Candidates)
		assert.Equal(t, cfg.HighConcept.Candidates, client.Calls())
		assert.InDelta(t, 0.01*float64(cfg.HighConcept.Candidates), out.Mutation.CostUSD, 1e-9)
	})

	t.Run("best effort picks lowest penalty", func(t *testing.T) {
		cliche := `{"title":"The Chosen","logline":"In a world of drowned cities, a chosen one must pay the tide's debt."}`
		short := `{"title":"Stub","logline":"Too short."}`
		client := llm.NewScriptedClient("scripted", func(call int, _ llm.Request) (*llm.Response, error) {
			content := cliche
			if call == 2 {
				content = short
			}
			return &llm.Response{Content: content, TokensUsed: 10, CostUSD: 0.01}, nil
		})
		ctx := testContext(t, &cfg, client)

		out, err := stages.HighConcept().Run(ctx, state.New("/p"))
		require.NoError(t, err)
		// The cliche-laden logline scores lower than the too-short one.
		assert.Equal(t, "The Chosen", out.Mutation.HighConcept.Title)
	})

	t.Run("hard fail refuses to guess", func(t *testing.T) {
		hardCfg := testConfig()
		hardCfg.HighConcept.Fallback = config.FallbackHardFail
		client := llm.RespondWith("scripted", `{"title":"Stub","logline":"Too short."}`, 0.01)
		ctx := testContext(t, &hardCfg, client)

		_, err := stages.HighConcept().Run(ctx, state.New("/p"))
		require.Error(t, err)
		assert.ErrorIs(t, err, stages.ErrNoViableConcept)
	})

	t.Run("unparseable candidates are skipped", func(t *testing.T) {
		client := llm.NewScriptedClient("scripted", func(call int, _ llm.Request) (*llm.Response, error) {
			if call < 3 {
				return &llm.Response{Content: "no json here", TokensUsed: 5, CostUSD: 0.01}, nil
			}
			return &llm.Response{Content: conceptJSON, TokensUsed: 10, CostUSD: 0.01}, nil
		})
		ctx := testContext(t, &cfg, client)

		out, err := stages.HighConcept().Run(ctx, state.New("/p"))
		require.NoError(t, err)
		assert.Len(t, out.Mutation.HighConceptCandidates, 1)
		assert.Equal(t, "Glass Harbor", out.Mutation.HighConcept.Title)
	})

	t.Run("all candidates unparseable fails with quality error", func(t *testing.T) {
		client := llm.RespondWith("scripted", "still no json", 0.01)
		ctx := testContext(t, &cfg, client)

		_, err := stages.HighConcept().Run(ctx, state.New("/p"))
		require.Error(t, err)
		assert.Equal(t, pipeerrors.CategoryOutputQuality, pipeerrors.Categorize(err))
	})
}

func TestOutline(t *testing.T) {
	cfg := testConfig()

	t.Run("builds sized outline", func(t *testing.T) {
		st := state.New("/p")
		st.HighConcept = &state.Concept{Title: "Glass Harbor", Logline: "x"}
		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		out, err := stages.Outline().Run(ctx, st)
		require.NoError(t, err)
		require.NotNil(t, out.Mutation.Outline)
		require.Len(t, out.Mutation.Outline.Chapters, 2)
		assert.Len(t, out.Mutation.Outline.Chapters[0].Scenes, 2)
		assert.Equal(t, 1, out.Mutation.Outline.Chapters[0].Chapter)
	})

	t.Run("requires a concept", func(t *testing.T) {
		ctx := testContext(t, &cfg, llm.RespondWith("scripted", "", 0.01))
		_, err := stages.Outline().Run(ctx, state.New("/p"))
		require.Error(t, err)
	})

	t.Run("wrong chapter count is a quality error", func(t *testing.T) {
		st := state.New("/p")
		st.HighConcept = &state.Concept{Title: "Glass Harbor", Logline: "x"}
		client := llm.RespondWith("scripted", outlineJSON(1, 2), 0.01)
		ctx := testContext(t, &cfg, client)

		_, err := stages.Outline().Run(ctx, st)
		require.Error(t, err)
		assert.Equal(t, pipeerrors.CategoryOutputQuality, pipeerrors.Categorize(err))
	})
}

func TestCharacters(t *testing.T) {
	cfg := testConfig()

	t.Run("builds cast and asks for every pov", func(t *testing.T) {
		st := preparedState(t, &cfg)
		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		out, err := stages.Characters().Run(ctx, st)
		require.NoError(t, err)
		require.Len(t, out.Mutation.Characters, 2)

		reqs := client.Requests()
		require.Len(t, reqs, 1)
		assert.Contains(t, reqs[0].Prompt, `"Mara"`)
	})

	t.Run("empty cast is a quality error", func(t *testing.T) {
		st := preparedState(t, &cfg)
		client := llm.RespondWith("scripted", "[]", 0.01)
		ctx := testContext(t, &cfg, client)

		_, err := stages.Characters().Run(ctx, st)
		require.Error(t, err)
		assert.Equal(t, pipeerrors.CategoryOutputQuality, pipeerrors.Categorize(err))
	})
}

func TestDraftChapters(t *testing.T) {
	cfg := testConfig()

	t.Run("drafts every planned scene", func(t *testing.T) {
		st := preparedState(t, &cfg)
		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		drafts := stages.DraftChapters(2)
		require.Len(t, drafts, 2)
		assert.Equal(t, "draft_chapter_01", drafts[0].ID)
		assert.Equal(t, stages.DraftGroup, drafts[0].Group)

		out, err := drafts[0].Run(ctx, st)
		require.NoError(t, err)
		require.Len(t, out.Mutation.Scenes, 2)
		assert.Equal(t, "ch01_s01", out.Mutation.Scenes[0].SceneID)
		assert.Equal(t, "Mara", out.Mutation.Scenes[0].POV)
		assert.NotEmpty(t, out.Mutation.Scenes[0].Content)
	})

	t.Run("chapter drafts write disjoint scenes", func(t *testing.T) {
		st := preparedState(t, &cfg)
		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		drafts := stages.DraftChapters(2)
		out1, err := drafts[0].Run(ctx, st)
		require.NoError(t, err)
		out2, err := drafts[1].Run(ctx, st)
		require.NoError(t, err)

		assert.Empty(t, out1.Mutation.Conflicts(out2.Mutation))
	})

	t.Run("missing outline fails", func(t *testing.T) {
		ctx := testContext(t, &cfg, llm.RespondWith("scripted", "prose", 0.01))
		_, err := stages.DraftChapters(1)[0].Run(ctx, state.New("/p"))
		require.Error(t, err)
	})
}

func TestRevision(t *testing.T) {
	cfg := testConfig()

	t.Run("no findings means no calls", func(t *testing.T) {
		st := preparedState(t, &cfg)
		draftAll(t, &cfg, st)

		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		out, err := stages.Revision().Run(ctx, st)
		require.NoError(t, err)
		assert.Nil(t, out.Mutation)
		assert.Zero(t, client.Calls())
	})

	t.Run("re-drafts empty and diverged scenes", func(t *testing.T) {
		st := preparedState(t, &cfg)
		draftAll(t, &cfg, st)

		// Damage two scenes: one emptied, one with the wrong POV.
		st.Scenes[0].Content = ""
		st.Scenes[1].POV = "Nobody"

		client := llm.NewScriptedClient("scripted", storyScript(2, 2))
		ctx := testContext(t, &cfg, client)

		out, err := stages.Revision().Run(ctx, st)
		require.NoError(t, err)
		require.Len(t, out.Mutation.Scenes, 2)
		assert.Equal(t, 2, client.Calls())

		require.NoError(t, out.Mutation.Apply(st))
		assert.NotEmpty(t, st.Scenes[0].Content)
		assert.Equal(t, "Mara", st.Scenes[1].POV)
	})
}

func TestQualityGate(t *testing.T) {
	cfg := testConfig()

	t.Run("passes a clean manuscript", func(t *testing.T) {
		st := preparedState(t, &cfg)
		draftAll(t, &cfg, st)

		ctx := testContext(t, &cfg, nil)
		out, err := stages.QualityGate().Run(ctx, st)
		require.NoError(t, err)
		assert.Empty(t, out.Findings)
		assert.NotEmpty(t, out.Payload)
	})

	t.Run("fails on findings but still reports them", func(t *testing.T) {
		st := preparedState(t, &cfg)
		draftAll(t, &cfg, st)
		st.Scenes[0].Content = ""

		ctx := testContext(t, &cfg, nil)
		out, err := stages.QualityGate().Run(ctx, st)
		require.Error(t, err)
		assert.NotEmpty(t, out.Findings)
	})

	t.Run("missing outline is inconclusive and fails", func(t *testing.T) {
		ctx := testContext(t, &cfg, nil)
		_, err := stages.QualityGate().Run(ctx, state.New("/p"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "inconclusive")
	})
}

func TestBuildPlan(t *testing.T) {
	cfg := testConfig()
	plan, err := stages.BuildPlan(&cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"high_concept", "outline", "characters",
		"draft_chapter_01", "draft_chapter_02",
		"revision", "quality_gate",
	}, plan.StageIDs())
}

func draftAll(t *testing.T, cfg *config.Config, st *state.PipelineState) {
	t.Helper()
	client := llm.NewScriptedClient("scripted", storyScript(cfg.Project.Chapters, cfg.Project.ScenesPerChapter))
	ctx := testContext(t, cfg, client)
	for _, s := range stages.DraftChapters(cfg.Project.Chapters) {
		out, err := s.Run(ctx, st)
		require.NoError(t, err)
		require.NoError(t, out.Mutation.Apply(st))
		st.MarkCompleted(s.ID)
	}
}
