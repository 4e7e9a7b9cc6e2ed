package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the latest checkpoint as a single JSON document at
// <projectDir>/pipeline_state.json.
//
// Writes go to a temp file in the same directory, are fsynced, then
// renamed over the previous checkpoint. A crash mid-write leaves the
// last good checkpoint untouched.
type FileStore struct {
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed checkpoint store.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Path returns the checkpoint file path for a project directory.
func (s *FileStore) Path(projectDir string) string {
	return filepath.Join(projectDir, Filename)
}

// Save implements Store. stageID and sequence live inside the envelope;
// the file store only guarantees the atomic replace.
func (s *FileStore) Save(projectDir, stageID string, sequence int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	final := s.Path(projectDir)
	tmp, err := os.CreateTemp(projectDir, Filename+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	// Any failure past this point leaves the previous checkpoint intact;
	// only the temp file needs cleanup.
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(fmt.Errorf("write temp checkpoint: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("sync temp checkpoint: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *FileStore) LoadLatest(projectDir string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.Path(projectDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// List implements Store. The file store only retains the latest
// checkpoint, so the list has at most one entry.
func (s *FileStore) List(projectDir string) ([]Info, error) {
	data, err := s.LoadLatest(projectDir)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint envelope: %w", err)
	}

	return []Info{{
		ProjectID: cp.ProjectID,
		StageID:   cp.StageID,
		Sequence:  cp.Sequence,
		Timestamp: cp.Timestamp,
		Size:      int64(len(data)),
	}}, nil
}

// DeleteProject implements Store.
func (s *FileStore) DeleteProject(projectDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.Path(projectDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
