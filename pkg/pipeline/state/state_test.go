package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

func TestSceneID_Format(t *testing.T) {
	tests := []struct {
		chapter, scene int
		want           string
	}{
		{1, 1, "ch01_s01"},
		{2, 13, "ch02_s13"},
		{12, 5, "ch12_s05"},
		{100, 100, "ch100_s100"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, state.SceneID(tt.chapter, tt.scene))
	}
}

func TestScene_Validate(t *testing.T) {
	t.Run("canonical id passes", func(t *testing.T) {
		sc := state.NewScene(3, 2)
		assert.NoError(t, sc.Validate())
	})

	t.Run("mismatched id fails", func(t *testing.T) {
		sc := state.NewScene(3, 2)
		sc.SceneID = "ch03_s09"
		err := sc.Validate()
		require.Error(t, err)

		var integ *state.IntegrityError
		require.ErrorAs(t, err, &integ)
		assert.Equal(t, state.RuleSceneIDDerived, integ.Rule)
		assert.Equal(t, "ch03_s09", integ.SceneID)
	})

	t.Run("zero coordinates fail", func(t *testing.T) {
		sc := state.Scene{SceneID: "ch00_s01", Chapter: 0, SceneNumber: 1}
		var integ *state.IntegrityError
		require.ErrorAs(t, sc.Validate(), &integ)
		assert.Equal(t, state.RuleSceneCoordinates, integ.Rule)
	})
}

func TestPipelineState_Validate(t *testing.T) {
	t.Run("fresh state is valid", func(t *testing.T) {
		assert.NoError(t, state.New("/tmp/proj").Validate())
	})

	t.Run("duplicate scene id", func(t *testing.T) {
		s := state.New("/tmp/proj")
		s.Scenes = []state.Scene{state.NewScene(1, 1), state.NewScene(1, 1)}

		var integ *state.IntegrityError
		require.ErrorAs(t, s.Validate(), &integ)
		assert.Equal(t, state.RuleSceneIDUnique, integ.Rule)
	})

	t.Run("schema version mismatch", func(t *testing.T) {
		s := state.New("/tmp/proj")
		s.SchemaVersion = 99

		var integ *state.IntegrityError
		require.ErrorAs(t, s.Validate(), &integ)
		assert.Equal(t, state.RuleSchemaVersion, integ.Rule)
	})

	t.Run("negative cost", func(t *testing.T) {
		s := state.New("/tmp/proj")
		s.TotalCostUSD = -0.01

		var integ *state.IntegrityError
		require.ErrorAs(t, s.Validate(), &integ)
		assert.Equal(t, state.RuleCostNonNegative, integ.Rule)
	})
}

func TestPipelineState_CompletedStages(t *testing.T) {
	s := state.New("/tmp/proj")

	s.MarkCompleted("outline")
	s.MarkCompleted("outline") // idempotent
	s.MarkCompleted("characters")

	assert.Equal(t, []string{"outline", "characters"}, s.CompletedStages)
	assert.True(t, s.StageCompleted("outline"))
	assert.False(t, s.StageCompleted("draft_scenes"))

	s.ResetStages()
	assert.Empty(t, s.CompletedStages)
}

func TestMutation_Apply(t *testing.T) {
	s := state.New("/tmp/proj")

	m := &state.Mutation{
		Scenes:  []state.Scene{withContent(state.NewScene(1, 2), "two"), withContent(state.NewScene(1, 1), "one")},
		CostUSD: 0.25,
	}
	require.NoError(t, m.Apply(s))

	// Scenes kept in reading order regardless of write order.
	require.Len(t, s.Scenes, 2)
	assert.Equal(t, "ch01_s01", s.Scenes[0].SceneID)
	assert.Equal(t, "ch01_s02", s.Scenes[1].SceneID)
	assert.Equal(t, 0.25, s.TotalCostUSD)

	// Upsert replaces in place.
	rev := &state.Mutation{Scenes: []state.Scene{withContent(state.NewScene(1, 1), "one, revised")}}
	require.NoError(t, rev.Apply(s))
	require.Len(t, s.Scenes, 2)
	sc, ok := s.SceneAt(1, 1)
	require.True(t, ok)
	assert.Equal(t, "one, revised", sc.Content)

	t.Run("negative cost rejected", func(t *testing.T) {
		err := (&state.Mutation{CostUSD: -1}).Apply(s)
		assert.Error(t, err)
	})

	t.Run("malformed scene rejected", func(t *testing.T) {
		bad := state.NewScene(2, 1)
		bad.SceneID = "wrong"
		err := (&state.Mutation{Scenes: []state.Scene{bad}}).Apply(s)
		assert.Error(t, err)
	})
}

func TestMutation_Conflicts(t *testing.T) {
	outline := &state.Outline{Premise: "p"}

	t.Run("same field conflicts", func(t *testing.T) {
		a := &state.Mutation{Outline: outline}
		b := &state.Mutation{Outline: outline}
		assert.Equal(t, []string{"master_outline"}, a.Conflicts(b))
	})

	t.Run("disjoint fields do not conflict", func(t *testing.T) {
		a := &state.Mutation{Outline: outline}
		b := &state.Mutation{Characters: []state.Character{{Name: "Ada"}}}
		assert.Empty(t, a.Conflicts(b))
	})

	t.Run("disjoint scene coordinates do not conflict", func(t *testing.T) {
		a := &state.Mutation{Scenes: []state.Scene{state.NewScene(1, 1)}}
		b := &state.Mutation{Scenes: []state.Scene{state.NewScene(1, 2)}}
		assert.Empty(t, a.Conflicts(b))
	})

	t.Run("overlapping scene coordinates conflict", func(t *testing.T) {
		a := &state.Mutation{Scenes: []state.Scene{state.NewScene(1, 1)}}
		b := &state.Mutation{Scenes: []state.Scene{state.NewScene(1, 1)}}
		assert.Equal(t, []string{"scenes"}, a.Conflicts(b))
	})

	t.Run("cost never conflicts", func(t *testing.T) {
		a := &state.Mutation{CostUSD: 1}
		b := &state.Mutation{CostUSD: 2}
		assert.Empty(t, a.Conflicts(b))
	})
}

func TestPipelineState_Clone(t *testing.T) {
	s := state.New("/tmp/proj")
	s.MarkCompleted("outline")
	s.Scenes = []state.Scene{withContent(state.NewScene(1, 1), "original")}

	clone, err := s.Clone()
	require.NoError(t, err)

	clone.Scenes[0].Content = "mutated"
	clone.MarkCompleted("characters")

	assert.Equal(t, "original", s.Scenes[0].Content)
	assert.Equal(t, []string{"outline"}, s.CompletedStages)
}

func withContent(sc state.Scene, content string) state.Scene {
	sc.Content = content
	return sc
}
