package state

import (
	"fmt"
	"sort"
)

// Mutation is the set of writes a stage wants applied to PipelineState.
// Each field is optional; nil/zero fields are untouched. Stages inside
// one parallel group must write disjoint fields, so the orchestrator can
// merge group results without locks.
//
// CostUSD is additive rather than a plain write, so any number of group
// members may report cost without conflicting.
type Mutation struct {
	Outline    *Outline
	Characters []Character

	// Scenes are upserted by (Chapter, SceneNumber).
	Scenes []Scene

	HighConceptCandidates  []Concept
	HighConcept            *Concept
	HighConceptFingerprint string

	// CostUSD is added to TotalCostUSD. Must be non-negative.
	CostUSD float64

	// ResetCompleted clears completed_stages before anything else is
	// applied. Only the administrative reset path sets this.
	ResetCompleted bool
}

// Fields returns the names of state fields this mutation writes.
// CostUSD is excluded: additive writes never conflict.
func (m *Mutation) Fields() []string {
	if m == nil {
		return nil
	}
	var fields []string
	if m.Outline != nil {
		fields = append(fields, "master_outline")
	}
	if m.Characters != nil {
		fields = append(fields, "characters")
	}
	if len(m.Scenes) > 0 {
		fields = append(fields, "scenes")
	}
	if m.HighConceptCandidates != nil {
		fields = append(fields, "high_concept_candidates")
	}
	if m.HighConcept != nil {
		fields = append(fields, "high_concept")
	}
	if m.HighConceptFingerprint != "" {
		fields = append(fields, "high_concept_fingerprint")
	}
	if m.ResetCompleted {
		fields = append(fields, "completed_stages")
	}
	sort.Strings(fields)
	return fields
}

// Conflicts returns the state fields written by both mutations.
// Scene writes only conflict when both mutations touch the same
// (chapter, scene) coordinates.
func (m *Mutation) Conflicts(other *Mutation) []string {
	if m == nil || other == nil {
		return nil
	}
	mine := make(map[string]bool)
	for _, f := range m.Fields() {
		mine[f] = true
	}
	var conflicts []string
	for _, f := range other.Fields() {
		if !mine[f] {
			continue
		}
		if f == "scenes" && !scenesOverlap(m.Scenes, other.Scenes) {
			continue
		}
		conflicts = append(conflicts, f)
	}
	return conflicts
}

func scenesOverlap(a, b []Scene) bool {
	keys := make(map[string]bool, len(a))
	for _, sc := range a {
		keys[SceneID(sc.Chapter, sc.SceneNumber)] = true
	}
	for _, sc := range b {
		if keys[SceneID(sc.Chapter, sc.SceneNumber)] {
			return true
		}
	}
	return false
}

// Apply merges the mutation into the state. Scene writes upsert by
// coordinates; everything else replaces the field. Returns an error if
// the mutation would violate an invariant (negative cost, malformed scene).
func (m *Mutation) Apply(s *PipelineState) error {
	if m == nil {
		return nil
	}
	if m.CostUSD < 0 {
		return fmt.Errorf("apply mutation: negative cost %f", m.CostUSD)
	}
	for _, sc := range m.Scenes {
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("apply mutation: %w", err)
		}
	}

	if m.ResetCompleted {
		s.ResetStages()
	}
	if m.Outline != nil {
		s.MasterOutline = m.Outline
	}
	if m.Characters != nil {
		s.Characters = m.Characters
	}
	for _, sc := range m.Scenes {
		upsertScene(s, sc)
	}
	if m.HighConceptCandidates != nil {
		s.HighConceptCandidates = m.HighConceptCandidates
	}
	if m.HighConcept != nil {
		s.HighConcept = m.HighConcept
	}
	if m.HighConceptFingerprint != "" {
		s.HighConceptFingerprint = m.HighConceptFingerprint
	}
	s.TotalCostUSD += m.CostUSD
	return nil
}

func upsertScene(s *PipelineState, sc Scene) {
	for i, existing := range s.Scenes {
		if existing.Chapter == sc.Chapter && existing.SceneNumber == sc.SceneNumber {
			s.Scenes[i] = sc
			return
		}
	}
	s.Scenes = append(s.Scenes, sc)
	// Keep scenes in reading order for deterministic checkpoints.
	sort.Slice(s.Scenes, func(i, j int) bool {
		if s.Scenes[i].Chapter != s.Scenes[j].Chapter {
			return s.Scenes[i].Chapter < s.Scenes[j].Chapter
		}
		return s.Scenes[i].SceneNumber < s.Scenes[j].SceneNumber
	})
}
