package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps the encoded list in process memory. Contents are lost on exit.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Load(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	raw := m.data[Key]
	m.mu.Unlock()
	return decode(raw)
}

func (m *MemoryStore) Save(ctx context.Context, names []string) error {
	raw, err := encode(names)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[Key] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	delete(m.data, Key)
	m.mu.Unlock()
	return nil
}
