package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxRecent caps the recently visited list.
const MaxRecent = 10

type RecentEvent struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	LastAccessed time.Time `json:"last_accessed"`
}

// RecentStore persists the recently visited list independently of the
// active session.
type RecentStore interface {
	List(ctx context.Context) ([]RecentEvent, error)
	Save(ctx context.Context, recent []RecentEvent) error
}

// Touch moves id to the front of recent, most recent first, capped at MaxRecent.
func Touch(recent []RecentEvent, id uuid.UUID, name string, at time.Time) []RecentEvent {
	out := make([]RecentEvent, 0, MaxRecent)
	out = append(out, RecentEvent{ID: id, Name: name, LastAccessed: at})
	for _, r := range recent {
		if r.ID == id {
			continue
		}
		if len(out) == MaxRecent {
			break
		}
		out = append(out, r)
	}
	return out
}

func Forget(recent []RecentEvent, id uuid.UUID) []RecentEvent {
	return slices.DeleteFunc(slices.Clone(recent), func(r RecentEvent) bool {
		return r.ID == id
	})
}

type memoryRecent struct {
	mu     sync.Mutex
	recent []RecentEvent
}

func NewMemoryRecent() *memoryRecent {
	return &memoryRecent{}
}

func (m *memoryRecent) List(context.Context) ([]RecentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.recent), nil
}

func (m *memoryRecent) Save(_ context.Context, recent []RecentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = slices.Clone(recent)
	return nil
}
