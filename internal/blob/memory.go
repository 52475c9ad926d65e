package blob

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps objects in a map. It backs tests and single-process
// development setups.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	calls   int

	// PutHook, when set, runs after an object is stored and before Put returns.
	PutHook func(ctx context.Context, obj Object)
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put implements Store.
func (m *MemoryStore) Put(ctx context.Context, data []byte, hints KeyHints) (Object, error) {
	key := BuildKey(hints)

	m.mu.Lock()
	m.calls++
	m.objects[key] = bytes.Clone(data)
	m.mu.Unlock()

	obj := Object{Key: key, URL: "mem://" + key, Size: int64(len(data))}
	if m.PutHook != nil {
		m.PutHook(ctx, obj)
	}
	return obj, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return bytes.Clone(data), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	delete(m.objects, key)
	return nil
}

// Has reports whether key is stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Calls returns how many store operations have been made.
func (m *MemoryStore) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
