// Package checkpoint persists PipelineState snapshots for crash recovery.
//
// A checkpoint is written after every stage (or parallel group) commit,
// never mid-stage. Loading a corrupt or partially written checkpoint
// fails loudly with a state-corruption error rather than silently
// returning a half-populated state.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoint documents. Implementations must be safe for
// concurrent use.
//
// For the file store, projectID is the project directory; for the sqlite
// and memory stores it is an opaque key.
type Store interface {
	// Save stores a checkpoint document for a project.
	// The write must be atomic: a crash mid-save never corrupts the
	// previously saved checkpoint.
	Save(projectID, stageID string, sequence int, data []byte) error

	// LoadLatest retrieves the most recent checkpoint document.
	// Returns ErrNotFound if the project has no checkpoint.
	LoadLatest(projectID string) ([]byte, error)

	// List returns checkpoint metadata for a project, ordered by sequence.
	// Returns an empty slice (not an error) if the project has none.
	List(projectID string) ([]Info, error)

	// DeleteProject removes all checkpoints for a project.
	// Returns nil if the project has none.
	DeleteProject(projectID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides checkpoint metadata without loading full state.
type Info struct {
	ProjectID string
	StageID   string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates no checkpoint exists.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
