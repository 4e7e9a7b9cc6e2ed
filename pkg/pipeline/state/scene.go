package state

import "fmt"

// Scene is one drafted unit of prose.
type Scene struct {
	// SceneID is derived from (Chapter, SceneNumber) as "chCC_sNN".
	// A stored scene whose SceneID does not match its coordinates is a
	// data-integrity fault, not a recoverable inconsistency.
	SceneID string `json:"scene_id"`

	Chapter     int               `json:"chapter"`
	SceneNumber int               `json:"scene_number"`
	POV         string            `json:"pov,omitempty"`
	Content     string            `json:"content"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// SceneID derives the canonical scene identifier for (chapter, sceneNumber).
func SceneID(chapter, sceneNumber int) string {
	return fmt.Sprintf("ch%02d_s%02d", chapter, sceneNumber)
}

// NewScene creates a scene with its canonical identifier.
func NewScene(chapter, sceneNumber int) Scene {
	return Scene{
		SceneID:     SceneID(chapter, sceneNumber),
		Chapter:     chapter,
		SceneNumber: sceneNumber,
	}
}

// Validate checks the scene id invariant and coordinate sanity.
func (sc Scene) Validate() error {
	if sc.Chapter < 1 || sc.SceneNumber < 1 {
		return &IntegrityError{
			Rule:    RuleSceneCoordinates,
			SceneID: sc.SceneID,
			Detail:  fmt.Sprintf("chapter %d, scene %d", sc.Chapter, sc.SceneNumber),
		}
	}
	if want := SceneID(sc.Chapter, sc.SceneNumber); sc.SceneID != want {
		return &IntegrityError{
			Rule:    RuleSceneIDDerived,
			SceneID: sc.SceneID,
			Detail:  fmt.Sprintf("expected %s for chapter %d, scene %d", want, sc.Chapter, sc.SceneNumber),
		}
	}
	return nil
}
