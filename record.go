package upload

import (
	"context"
	"sync"
)

// MemoryStore is a process-local RecordStore. It is what the queue falls back
// to when no persistent backend is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	data := make([]byte, len(r.Data))
	copy(data, r.Data)
	return Record{Data: data, Version: r.Version}, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, data []byte, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[key].Version != version {
		return 0, ErrVersionConflict
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	next := version + 1
	m.records[key] = Record{Data: cp, Version: next}
	return next, nil
}

var _ RecordStore = (*MemoryStore)(nil)
