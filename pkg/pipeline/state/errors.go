package state

import "fmt"

// Integrity rules checked by Validate. The rule name is reported verbatim
// so a corrupt checkpoint can be diagnosed without reading code.
const (
	RuleSchemaVersion    = "schema_version"
	RuleProjectPath      = "project_path"
	RuleCostNonNegative  = "cost_non_negative"
	RuleSceneIDDerived   = "scene_id_derived"
	RuleSceneIDUnique    = "scene_id_unique"
	RuleSceneCoordinates = "scene_coordinates"
	RuleStageUnique      = "stage_unique"
)

// IntegrityError describes a violated state invariant.
type IntegrityError struct {
	// Rule is the violated validation rule.
	Rule string
	// SceneID is set when the violation concerns a specific scene.
	SceneID string
	// Detail describes the violation.
	Detail string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.SceneID != "" {
		return fmt.Sprintf("state integrity: rule %s violated by scene %s: %s", e.Rule, e.SceneID, e.Detail)
	}
	return fmt.Sprintf("state integrity: rule %s violated: %s", e.Rule, e.Detail)
}
