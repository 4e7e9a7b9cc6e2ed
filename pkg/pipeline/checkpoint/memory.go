package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[int]storedCheckpoint // projectID -> sequence -> checkpoint
	closed bool
}

// storedCheckpoint holds checkpoint data with metadata for List().
type storedCheckpoint struct {
	data      []byte
	stageID   string
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[int]storedCheckpoint),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(projectID, stageID string, sequence int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if m.data[projectID] == nil {
		m.data[projectID] = make(map[int]storedCheckpoint)
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.data[projectID][sequence] = storedCheckpoint{
		data:      stored,
		stageID:   stageID,
		timestamp: time.Now().UTC(),
	}

	return nil
}

// LoadLatest implements Store.
func (m *MemoryStore) LoadLatest(projectID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	project, ok := m.data[projectID]
	if !ok || len(project) == 0 {
		return nil, ErrNotFound
	}

	latest := -1
	for seq := range project {
		if seq > latest {
			latest = seq
		}
	}

	cp := project[latest]
	result := make([]byte, len(cp.data))
	copy(result, cp.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(projectID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	project, ok := m.data[projectID]
	if !ok {
		return nil, nil
	}

	infos := make([]Info, 0, len(project))
	for seq, cp := range project {
		infos = append(infos, Info{
			ProjectID: projectID,
			StageID:   cp.stageID,
			Sequence:  seq,
			Timestamp: cp.timestamp,
			Size:      int64(len(cp.data)),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})

	return infos, nil
}

// DeleteProject implements Store.
func (m *MemoryStore) DeleteProject(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, projectID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of checkpoints across all projects.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, project := range m.data {
		count += len(project)
	}
	return count
}
