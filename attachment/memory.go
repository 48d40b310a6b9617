package attachment

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type Memory struct {
	mu       sync.RWMutex
	blobs    map[string][]byte
	maxBytes int
}

func NewMemory(maxBytes int) *Memory {
	return &Memory{blobs: make(map[string][]byte), maxBytes: maxBytes}
}

func (m *Memory) Validate(data []byte) error {
	return validate(data, m.maxBytes)
}

func (m *Memory) Put(_ context.Context, eventID uuid.UUID, data []byte) (string, error) {
	if err := validate(data, m.maxBytes); err != nil {
		return "", err
	}

	ref := Ref(eventID, data)
	m.mu.Lock()
	m.blobs[ref] = slices.Clone(data)
	m.mu.Unlock()
	return ref, nil
}

func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *Memory) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	delete(m.blobs, ref)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
