package quality_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	"github.com/randalmurphal/novelforge/pkg/pipeline/quality"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

func sampleOutline() *state.Outline {
	return &state.Outline{
		Premise: "a heist goes sideways",
		Chapters: []state.ChapterOutline{
			{
				Chapter: 1,
				Title:   "The Setup",
				Scenes: []state.SceneOutline{
					{SceneNumber: 1, POV: "Mara"},
					{SceneNumber: 2, POV: "Dev"},
				},
			},
		},
	}
}

func draftedScenes() []state.Scene {
	s1 := state.NewScene(1, 1)
	s1.POV = "Mara"
	s1.Content = "Mara cased the vault."
	s2 := state.NewScene(1, 2)
	s2.POV = "Dev"
	s2.Content = "Dev watched the cameras."
	return []state.Scene{s1, s2}
}

func TestSceneIDIntegrity(t *testing.T) {
	p := quality.SceneIDIntegrity{}

	t.Run("clean scenes pass", func(t *testing.T) {
		res := p.Check(draftedScenes(), nil, nil)
		assert.Equal(t, quality.StatusPass, res.Status)
		assert.Empty(t, res.Findings)
	})

	t.Run("mismatched id fails", func(t *testing.T) {
		scenes := draftedScenes()
		scenes[0].SceneID = "ch09_s09"

		res := p.Check(scenes, nil, nil)
		require.Equal(t, quality.StatusFail, res.Status)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, "scene_id_derived", res.Findings[0].Rule)
		assert.Equal(t, "ch09_s09", res.Findings[0].SceneID)
	})

	t.Run("duplicate id fails", func(t *testing.T) {
		scenes := draftedScenes()
		dup := scenes[0]
		scenes = append(scenes, dup)

		res := p.Check(scenes, nil, nil)
		require.Equal(t, quality.StatusFail, res.Status)

		var rules []string
		for _, f := range res.Findings {
			rules = append(rules, f.Rule)
		}
		assert.Contains(t, rules, "scene_id_unique")
	})
}

func TestOutlineCoverage(t *testing.T) {
	p := quality.OutlineCoverage{}

	t.Run("fully drafted passes", func(t *testing.T) {
		res := p.Check(draftedScenes(), sampleOutline(), nil)
		assert.Equal(t, quality.StatusPass, res.Status)
	})

	t.Run("missing scene fails", func(t *testing.T) {
		scenes := draftedScenes()[:1]

		res := p.Check(scenes, sampleOutline(), nil)
		require.Equal(t, quality.StatusFail, res.Status)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, "ch01_s02", res.Findings[0].SceneID)
	})

	t.Run("empty content fails", func(t *testing.T) {
		scenes := draftedScenes()
		scenes[1].Content = "   "

		res := p.Check(scenes, sampleOutline(), nil)
		require.Equal(t, quality.StatusFail, res.Status)
		assert.Equal(t, "ch01_s02", res.Findings[0].SceneID)
	})

	t.Run("no outline is inconclusive", func(t *testing.T) {
		res := p.Check(draftedScenes(), nil, nil)
		assert.Equal(t, quality.StatusInconclusive, res.Status)
		assert.NotEmpty(t, res.Reason)
	})
}

func TestPOVConsistency(t *testing.T) {
	p := quality.POVConsistency{}

	t.Run("matching pov passes", func(t *testing.T) {
		res := p.Check(draftedScenes(), sampleOutline(), nil)
		assert.Equal(t, quality.StatusPass, res.Status)
	})

	t.Run("diverging pov fails", func(t *testing.T) {
		scenes := draftedScenes()
		scenes[1].POV = "Mara"

		res := p.Check(scenes, sampleOutline(), nil)
		require.Equal(t, quality.StatusFail, res.Status)
		assert.Equal(t, "ch01_s02", res.Findings[0].SceneID)
	})

	t.Run("unplanned scenes ignored", func(t *testing.T) {
		extra := state.NewScene(7, 1)
		extra.POV = "Stranger"
		extra.Content = "off-outline bonus scene"
		scenes := append(draftedScenes(), extra)

		res := p.Check(scenes, sampleOutline(), nil)
		assert.Equal(t, quality.StatusPass, res.Status)
	})
}

type panicking struct{}

func (panicking) Name() string { return "panicking" }

func (panicking) Check([]state.Scene, *state.Outline, *config.Config) quality.Result {
	panic("boom")
}

func TestRun(t *testing.T) {
	t.Run("runs all passes in order", func(t *testing.T) {
		results := quality.Run(quality.DefaultPasses(), draftedScenes(), sampleOutline(), nil)
		require.Len(t, results, 3)
		assert.Equal(t, "scene_id_integrity", results[0].PassName)
		assert.True(t, quality.AllOK(results))
	})

	t.Run("panicking pass is inconclusive", func(t *testing.T) {
		results := quality.Run([]quality.Pass{panicking{}}, nil, nil, nil)
		require.Len(t, results, 1)
		assert.Equal(t, quality.StatusInconclusive, results[0].Status)
		assert.Contains(t, results[0].Reason, "boom")
		assert.False(t, quality.AllOK(results))
	})

	t.Run("failures collects findings", func(t *testing.T) {
		scenes := draftedScenes()
		scenes[0].SceneID = "bogus"

		results := quality.Run(quality.DefaultPasses(), scenes, sampleOutline(), nil)
		findings := quality.Failures(results)
		assert.NotEmpty(t, findings)
		assert.False(t, quality.AllOK(results))
	})
}
