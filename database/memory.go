package database

import (
	"context"
	"sync"

	"github.com/blnkfinance/floorsync/model"
)

// MemoryStore keeps the encoded queue in process memory. It is used by tests
// and by deployments that accept losing the queue on restart.
type MemoryStore struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
}

func NewMemoryStore(maxBytes int) *MemoryStore {
	return &MemoryStore{maxBytes: maxBytes}
}

func (m *MemoryStore) Load(_ context.Context) ([]model.QueuedSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decodeList(m.data)
}

func (m *MemoryStore) Update(_ context.Context, fn Mutator) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := decodeList(m.data)
	if err != nil {
		return err
	}
	next, err := fn(items)
	if err != nil {
		return err
	}
	data, err := encodeList(next, m.maxBytes)
	if err != nil {
		return err
	}
	m.data = data
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
