package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	pipeerrors "github.com/randalmurphal/novelforge/pkg/pipeline/errors"
	"github.com/randalmurphal/novelforge/pkg/pipeline/state"
)

// Manager implements the checkpoint protocol for one project: it wraps a
// Store with envelope versioning, sequence numbering, and state
// validation on both save and load.
type Manager struct {
	store     Store
	projectID string
	sequence  int
	lastSize  int
}

// NewManager creates a manager for a project. The projectID is the
// project directory for file stores, or an opaque key otherwise.
func NewManager(store Store, projectID string) *Manager {
	return &Manager{store: store, projectID: projectID}
}

// Sequence returns the last written (or loaded) sequence number.
func (m *Manager) Sequence() int { return m.sequence }

// LastSize returns the size in bytes of the last written checkpoint.
func (m *Manager) LastSize() int { return m.lastSize }

// Save validates and persists the state after the named stage committed.
// Validation before write keeps a corrupt in-memory state from ever
// reaching durable storage.
func (m *Manager) Save(st *state.PipelineState, stageID string) error {
	if err := st.Validate(); err != nil {
		return &pipeerrors.StateCorruptionError{
			Path: m.path(),
			Rule: integrityRule(err),
			Err:  err,
		}
	}

	stateBytes, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	m.sequence++
	cp := New(m.projectID, stageID, m.sequence, stateBytes)
	data, err := cp.Marshal()
	if err != nil {
		m.sequence--
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := m.store.Save(m.projectID, stageID, m.sequence, data); err != nil {
		m.sequence--
		return fmt.Errorf("save checkpoint: %w", err)
	}
	m.lastSize = len(data)
	return nil
}

// Load reconstructs state from the latest checkpoint.
//
// Returns ErrNotFound when the project has never checkpointed. Any other
// failure — unreadable document, version mismatch, invalid state — is a
// *StateCorruptionError naming the checkpoint and the violated rule;
// a half-populated state is never returned.
func (m *Manager) Load() (*state.PipelineState, error) {
	data, err := m.store.LoadLatest(m.projectID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return nil, &pipeerrors.StateCorruptionError{
			Path: m.path(),
			Rule: "envelope_parse",
			Err:  err,
		}
	}

	if cp.Version != Version {
		return nil, &pipeerrors.StateCorruptionError{
			Path: m.path(),
			Rule: "envelope_version",
			Err:  fmt.Errorf("got version %d, expected %d", cp.Version, Version),
		}
	}

	var st state.PipelineState
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return nil, &pipeerrors.StateCorruptionError{
			Path: m.path(),
			Rule: "state_parse",
			Err:  err,
		}
	}

	if err := st.Validate(); err != nil {
		return nil, &pipeerrors.StateCorruptionError{
			Path: m.path(),
			Rule: integrityRule(err),
			Err:  err,
		}
	}

	m.sequence = cp.Sequence
	return &st, nil
}

// Delete removes all checkpoints for the project. Used by the explicit
// administrative reset path only.
func (m *Manager) Delete() error {
	m.sequence = 0
	return m.store.DeleteProject(m.projectID)
}

func (m *Manager) path() string {
	if fs, ok := m.store.(*FileStore); ok {
		return fs.Path(m.projectID)
	}
	return m.projectID
}

func integrityRule(err error) string {
	var integ *state.IntegrityError
	if errors.As(err, &integ) {
		return integ.Rule
	}
	return ""
}
