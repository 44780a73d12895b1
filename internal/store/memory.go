package store

import (
	"sync"
)

// MemoryStore is an in-memory Store for tests and throwaway runs.
type MemoryStore struct {
	mu       sync.RWMutex
	objects  map[string][]byte
	bindings map[bindingKey]string
}

type bindingKey struct {
	name string
	id   string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		bindings: make(map[bindingKey]string),
	}
}

func (m *MemoryStore) Put(key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[key]; ok {
		return checkSameContent(key, existing, data)
	}
	// Deep copy so later mutation by the caller cannot change stored content.
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Has(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Bind(name, id, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bk := bindingKey{name: name, id: id}
	if existing, ok := m.bindings[bk]; ok {
		return checkSameBinding(name, id, existing, key)
	}
	m.bindings[bk] = key
	return nil
}

func (m *MemoryStore) Lookup(name, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.bindings[bindingKey{name: name, id: id}]
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func (m *MemoryStore) Close() error { return nil }
