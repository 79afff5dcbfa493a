package storage

import (
	"context"
	"sync"
)

// Memory is an in-memory storage implementation. It is the default backend;
// durability then comes solely from the index snapshots.
type Memory struct {
	vectors map[int64]Vector
	mu      sync.RWMutex
}

// NewMemory creates a new in-memory storage.
func NewMemory() *Memory {
	return &Memory{vectors: make(map[int64]Vector)}
}

// Save stores vectors in memory.
func (m *Memory) Save(ctx context.Context, vectors []Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vectors {
		m.vectors[v.ID] = v
	}
	return nil
}

// Get returns the vector with the given id, or (nil, nil) if absent.
func (m *Memory) Get(ctx context.Context, id int64) (*Vector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// Load returns all stored vectors.
func (m *Memory) Load(ctx context.Context) ([]Vector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Vector, 0, len(m.vectors))
	for _, v := range m.vectors {
		result = append(result, v)
	}
	return result, nil
}

// Delete removes vectors by id.
func (m *Memory) Delete(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vectors, id)
	}
	return nil
}

// Clear removes all vectors.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = make(map[int64]Vector)
	return nil
}

// Close is a no-op for memory storage.
func (m *Memory) Close() error {
	return nil
}
