// Package sink persists gateway artifacts (debug snapshots, composites).
// Every Put replaces the previous object under the same key.
package sink

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by stores that can read back objects.
var ErrNotFound = errors.New("sink: object not found")

// Store writes whole objects under a key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Name() string
}

// MemoryStore keeps the latest object per key. It backs tests and the
// monitor's "latest artifact" endpoints.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// Object is a stored payload.
type Object struct {
	Data        []byte
	ContentType string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[key] = Object{Data: cp, ContentType: contentType}
	m.mu.Unlock()
	return nil
}

// Get returns the object stored under key.
func (m *MemoryStore) Get(key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Name implements Store.
func (m *MemoryStore) Name() string { return "memory" }

// MultiStore writes to every store and joins their errors.
type MultiStore []Store

// Put implements Store.
func (ms MultiStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var errs []error
	for _, s := range ms {
		if err := s.Put(ctx, key, data, contentType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name implements Store.
func (ms MultiStore) Name() string {
	name := "multi("
	for i, s := range ms {
		if i > 0 {
			name += ","
		}
		name += s.Name()
	}
	return name + ")"
}
