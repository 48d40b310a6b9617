package eventlogger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLogger() *memoryEventLogger {
	return &memoryEventLogger{}
}

func (el *memoryEventLogger) Save(_ context.Context, e Event) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.events = append(el.events, e)
	return nil
}

func (el *memoryEventLogger) GetByType(_ context.Context, eventType string) ([]Event, error) {
	return el.filter(func(e Event) bool { return e.Type == eventType }), nil
}

func (el *memoryEventLogger) GetByLedger(_ context.Context, ledgerID uuid.UUID) ([]Event, error) {
	return el.filter(func(e Event) bool { return e.LedgerID == ledgerID }), nil
}

func (el *memoryEventLogger) filter(keep func(Event) bool) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	events := make([]Event, 0)
	for _, e := range el.events {
		if keep(e) {
			events = append(events, e)
		}
	}
	return events
}
