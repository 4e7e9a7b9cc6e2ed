package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to the envelope structure.
const Version = 1

// Filename is the well-known checkpoint file name under a project directory.
const Filename = "pipeline_state.json"

// Checkpoint is the persisted envelope around a PipelineState snapshot.
type Checkpoint struct {
	Version   int       `json:"version"`
	ProjectID string    `json:"project_id"`
	StageID   string    `json:"stage_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// State is the serialized PipelineState.
	State json.RawMessage `json:"state"`
}

// New creates a checkpoint envelope. State must already be serialized.
func New(projectID, stageID string, sequence int, state []byte) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ProjectID: projectID,
		StageID:   stageID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
	}
}

// Marshal serializes the envelope to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes an envelope from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
