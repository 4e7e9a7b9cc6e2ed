package quality

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/novelforge/pkg/pipeline/config"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// SceneIDIntegrity verifies that every scene's id matches its coordinates
// and that no two scenes share an id.
type SceneIDIntegrity struct{}

// Name identifies the pass.
func (SceneIDIntegrity) Name() string { return "scene_id_integrity" }

// Check validates scene ids against (chapter, scene_number).
func (p SceneIDIntegrity) Check(scenes []state.Scene, _ *state.Outline, _ *config.Config) Result {
	var findings []Finding
	seen := make(map[string]bool, len(scenes))

	for _, sc := range scenes {
		want := state.SceneID(sc.Chapter, sc.SceneNumber)
		if sc.SceneID != want {
			findings = append(findings, Finding{
				Rule:    "scene_id_derived",
				SceneID: sc.SceneID,
				Detail:  fmt.Sprintf("scene_id %q does not match coordinates (want %q)", sc.SceneID, want),
			})
		}
		if seen[sc.SceneID] {
			findings = append(findings, Finding{
				Rule:    "scene_id_unique",
				SceneID: sc.SceneID,
				Detail:  "duplicate scene_id",
			})
		}
		seen[sc.SceneID] = true
	}

	if len(findings) > 0 {
		return fail(p.Name(), findings)
	}
	return pass(p.Name())
}

// OutlineCoverage verifies that every scene the outline plans has been
// drafted with non-empty content.
type OutlineCoverage struct{}

// Name identifies the pass.
func (OutlineCoverage) Name() string { return "outline_coverage" }

// Check compares drafted scenes against the outline's planned scenes.
// Without an outline the pass cannot be evaluated.
func (p OutlineCoverage) Check(scenes []state.Scene, outline *state.Outline, _ *config.Config) Result {
	if outline == nil {
		return inconclusive(p.Name(), "no master outline in state")
	}

	drafted := make(map[string]*state.Scene, len(scenes))
	for i := range scenes {
		drafted[scenes[i].SceneID] = &scenes[i]
	}

	var findings []Finding
	for _, ch := range outline.Chapters {
		for _, so := range ch.Scenes {
			id := state.SceneID(ch.Chapter, so.SceneNumber)
			sc, ok := drafted[id]
			if !ok {
				findings = append(findings, Finding{
					Rule:    "outline_coverage",
					SceneID: id,
					Detail:  "planned scene was never drafted",
				})
				continue
			}
			if strings.TrimSpace(sc.Content) == "" {
				findings = append(findings, Finding{
					Rule:    "outline_coverage",
					SceneID: id,
					Detail:  "drafted scene has empty content",
				})
			}
		}
	}

	if len(findings) > 0 {
		return fail(p.Name(), findings)
	}
	return pass(p.Name())
}

// POVConsistency verifies that a drafted scene's point of view matches what
// the outline planned for it. Scenes the outline does not plan are ignored.
type POVConsistency struct{}

// Name identifies the pass.
func (POVConsistency) Name() string { return "pov_consistency" }

// Check compares each drafted scene's POV against the outline.
func (p POVConsistency) Check(scenes []state.Scene, outline *state.Outline, _ *config.Config) Result {
	if outline == nil {
		return inconclusive(p.Name(), "no master outline in state")
	}

	planned := make(map[string]string)
	for _, ch := range outline.Chapters {
		for _, so := range ch.Scenes {
			planned[state.SceneID(ch.Chapter, so.SceneNumber)] = so.POV
		}
	}

	var findings []Finding
	for _, sc := range scenes {
		want, ok := planned[sc.SceneID]
		if !ok || want == "" {
			continue
		}
		if sc.POV != want {
			findings = append(findings, Finding{
				Rule:    "pov_consistency",
				SceneID: sc.SceneID,
				Detail:  fmt.Sprintf("drafted POV %q, outline plans %q", sc.POV, want),
			})
		}
	}

	if len(findings) > 0 {
		return fail(p.Name(), findings)
	}
	return pass(p.Name())
}

// DefaultPasses returns the built-in pass set in evaluation order.
func DefaultPasses() []Pass {
	return []Pass{
		SceneIDIntegrity{},
		OutlineCoverage{},
		POVConsistency{},
	}
}
