// Package state defines the durable representation of an in-progress
// novel project: the outline, characters, drafted scenes, cost counters,
// and the set of stages that have already committed.
package state

import (
	"encoding/json"
	"fmt"
	"slices"
)

// SchemaVersion is the current PipelineState schema version.
// Increment when making breaking changes to the persisted structure.
const SchemaVersion = 1

// PipelineState is the central mutable aggregate for one project run.
// It is owned exclusively by the orchestrator for the duration of a run;
// stage bodies receive it read-only and return a Mutation instead of
// writing fields directly.
type PipelineState struct {
	SchemaVersion int    `json:"schema_version"`
	ProjectPath   string `json:"project_path"`

	// CompletedStages is append-only. A stage identifier, once added,
	// is never removed except by an explicit administrative reset.
	CompletedStages []string `json:"completed_stages"`

	Scenes        []Scene     `json:"scenes"`
	MasterOutline *Outline    `json:"master_outline,omitempty"`
	Characters    []Character `json:"characters,omitempty"`

	// TotalCostUSD only ever increases; successful billable LLM calls
	// are the sole source of increments.
	TotalCostUSD float64 `json:"total_cost_usd"`

	// Candidates are retained for audit even after one is selected.
	HighConceptCandidates  []Concept `json:"high_concept_candidates,omitempty"`
	HighConcept            *Concept  `json:"high_concept,omitempty"`
	HighConceptFingerprint string    `json:"high_concept_fingerprint,omitempty"`
}

// New creates a fresh PipelineState for a project.
func New(projectPath string) *PipelineState {
	return &PipelineState{
		SchemaVersion: SchemaVersion,
		ProjectPath:   projectPath,
	}
}

// StageCompleted reports whether the given stage has already committed.
func (s *PipelineState) StageCompleted(stageID string) bool {
	return slices.Contains(s.CompletedStages, stageID)
}

// MarkCompleted appends a stage to the completed set.
// Appending an already-present stage is a no-op.
func (s *PipelineState) MarkCompleted(stageID string) {
	if !s.StageCompleted(stageID) {
		s.CompletedStages = append(s.CompletedStages, stageID)
	}
}

// ResetStages clears the completed-stage set. This is the explicit
// administrative reset path; nothing else removes entries.
func (s *PipelineState) ResetStages() {
	s.CompletedStages = nil
}

// SceneAt returns the scene for (chapter, sceneNumber), or false if absent.
func (s *PipelineState) SceneAt(chapter, sceneNumber int) (Scene, bool) {
	for _, sc := range s.Scenes {
		if sc.Chapter == chapter && sc.SceneNumber == sceneNumber {
			return sc, true
		}
	}
	return Scene{}, false
}

// Clone returns a deep copy of the state via JSON round-trip.
// Used when handing snapshots to concurrently executing stage bodies.
func (s *PipelineState) Clone() (*PipelineState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: marshal: %w", err)
	}
	var clone PipelineState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, fmt.Errorf("clone state: unmarshal: %w", err)
	}
	return &clone, nil
}

// Validate checks structural integrity of the state.
// Returns an *IntegrityError describing the first violated rule.
func (s *PipelineState) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return &IntegrityError{
			Rule:   RuleSchemaVersion,
			Detail: fmt.Sprintf("got %d, expected %d", s.SchemaVersion, SchemaVersion),
		}
	}
	if s.ProjectPath == "" {
		return &IntegrityError{Rule: RuleProjectPath, Detail: "project path is empty"}
	}
	if s.TotalCostUSD < 0 {
		return &IntegrityError{
			Rule:   RuleCostNonNegative,
			Detail: fmt.Sprintf("total_cost_usd is %f", s.TotalCostUSD),
		}
	}

	seen := make(map[string]bool, len(s.Scenes))
	for _, sc := range s.Scenes {
		if err := sc.Validate(); err != nil {
			return err
		}
		if seen[sc.SceneID] {
			return &IntegrityError{
				Rule:    RuleSceneIDUnique,
				SceneID: sc.SceneID,
				Detail:  "duplicate scene id",
			}
		}
		seen[sc.SceneID] = true
	}

	completed := make(map[string]bool, len(s.CompletedStages))
	for _, id := range s.CompletedStages {
		if completed[id] {
			return &IntegrityError{
				Rule:   RuleStageUnique,
				Detail: fmt.Sprintf("stage %s listed twice in completed_stages", id),
			}
		}
		completed[id] = true
	}

	return nil
}

// Outline is the structured planning artifact produced by the outline
// stage and read by drafting and quality stages.
type Outline struct {
	Premise  string           `json:"premise"`
	Chapters []ChapterOutline `json:"chapters"`
}

// ChapterOutline plans one chapter.
type ChapterOutline struct {
	Chapter int            `json:"chapter"`
	Title   string         `json:"title"`
	Summary string         `json:"summary"`
	Scenes  []SceneOutline `json:"scenes"`
}

// SceneOutline plans one scene within a chapter.
type SceneOutline struct {
	SceneNumber int    `json:"scene_number"`
	POV         string `json:"pov"`
	Summary     string `json:"summary"`
}

// Character is a planning artifact describing one cast member.
type Character struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Bio   string `json:"bio,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// Concept is a high-concept candidate: a premise pitch with a
// validator-assigned score. Lower scores are better (penalty points).
type Concept struct {
	Title   string  `json:"title"`
	Logline string  `json:"logline"`
	Score   float64 `json:"score"`
}
