// Package memory is an in-process ledger.Repository. It is used when no
// database is configured and as the remote side in tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/billbatista/acasinha-split/ledger"
	"github.com/google/uuid"
)

type Store struct {
	mu          sync.RWMutex
	events      map[uuid.UUID]*ledger.Event
	subscribers map[uuid.UUID][]chan struct{}
}

func New() *Store {
	return &Store{
		events:      make(map[uuid.UUID]*ledger.Event),
		subscribers: make(map[uuid.UUID][]chan struct{}),
	}
}

func (s *Store) CreateEvent(_ context.Context, ev ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; ok {
		return ledger.ErrAlreadyExists
	}
	s.events[ev.ID] = ev.Clone()
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID uuid.UUID) (*ledger.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, ledger.ErrEventNotFound
	}
	return ev.Clone(), nil
}

func (s *Store) DeleteEvent(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		return ledger.ErrEventNotFound
	}
	delete(s.events, eventID)
	s.notify(eventID)
	return nil
}

func (s *Store) CreateParticipant(_ context.Context, p ledger.Participant) error {
	return s.mutate(p.EventID, func(ev *ledger.Event) error {
		if ev.Participant(p.ID) != nil {
			return ledger.ErrAlreadyExists
		}
		ev.Participants = append(ev.Participants, p)
		return nil
	})
}

func (s *Store) UpdateParticipant(_ context.Context, p ledger.Participant) error {
	return s.mutate(p.EventID, func(ev *ledger.Event) error {
		existing := ev.Participant(p.ID)
		if existing == nil {
			return ledger.ErrParticipantMissing
		}
		existing.Name = p.Name
		return nil
	})
}

func (s *Store) DeleteParticipant(_ context.Context, eventID, participantID uuid.UUID) error {
	return s.mutate(eventID, func(ev *ledger.Event) error {
		if ev.Participant(participantID) == nil {
			return ledger.ErrParticipantMissing
		}
		for _, e := range ev.Expenses {
			if e.PaidBy == participantID {
				return ledger.ErrPayerHasExpenses
			}
		}
		ev.RemoveParticipant(participantID)
		return nil
	})
}

func (s *Store) CreateExpense(_ context.Context, e ledger.Expense) error {
	return s.mutate(e.EventID, func(ev *ledger.Event) error {
		if ev.Expense(e.ID) != nil {
			return ledger.ErrAlreadyExists
		}
		if ev.Participant(e.PaidBy) == nil {
			return ledger.ErrUnknownParticipant
		}
		e.Beneficiaries = slices.Clone(e.Beneficiaries)
		ev.Expenses = append(ev.Expenses, e)
		return nil
	})
}

func (s *Store) UpdateExpense(_ context.Context, e ledger.Expense) error {
	return s.mutate(e.EventID, func(ev *ledger.Event) error {
		existing := ev.Expense(e.ID)
		if existing == nil {
			return ledger.ErrExpenseMissing
		}
		if ev.Participant(e.PaidBy) == nil {
			return ledger.ErrUnknownParticipant
		}
		e.Beneficiaries = slices.Clone(e.Beneficiaries)
		*existing = e
		return nil
	})
}

func (s *Store) DeleteExpense(_ context.Context, eventID, expenseID uuid.UUID) error {
	return s.mutate(eventID, func(ev *ledger.Event) error {
		if ev.Expense(expenseID) == nil {
			return ledger.ErrExpenseMissing
		}
		ev.RemoveExpense(expenseID)
		return nil
	})
}

// Subscribe coalesces changes: at most one signal is pending per subscriber.
func (s *Store) Subscribe(ctx context.Context, eventID uuid.UUID) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	s.subscribers[eventID] = append(s.subscribers[eventID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers[eventID] = slices.DeleteFunc(s.subscribers[eventID], func(c chan struct{}) bool {
			return c == ch
		})
		close(ch)
	}()

	return ch, nil
}

func (s *Store) mutate(eventID uuid.UUID, fn func(ev *ledger.Event) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return ledger.ErrEventNotFound
	}

	working := ev.Clone()
	if err := fn(working); err != nil {
		return err
	}
	s.events[eventID] = working
	s.notify(eventID)
	return nil
}

// notify must be called with mu held.
func (s *Store) notify(eventID uuid.UUID) {
	for _, ch := range s.subscribers[eventID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
