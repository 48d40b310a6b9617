package ledger

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Store holds the locally known copy of the active event. Every change bumps
// the revision.
//
// Balances and debts are always recomputed from the snapshot.
type Store struct {
	mu       sync.RWMutex
	event    *Event
	revision uint64
	watchers map[chan struct{}]struct{}
}

func NewStore() *Store {
	return &Store{watchers: make(map[chan struct{}]struct{})}
}

// Watch returns a channel signalled after every change to the snapshot.
// Signals coalesce; a receiver should read the snapshot afresh. stop closes
// the channel.
func (s *Store) Watch() (changes <-chan struct{}, stop func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// changed must be called with mu held.
func (s *Store) changed() {
	s.revision++
	for ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Get returns a copy of the snapshot (nil when no event is loaded) and its revision.
func (s *Store) Get() (*Event, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.event.Clone(), s.revision
}

func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Replace installs authoritative data, discarding whatever was held.
func (s *Store) Replace(ev *Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = ev.Clone()
	s.changed()
	return s.revision
}

// Apply runs fn against a working copy of the snapshot and installs the copy
// if fn succeeds. It returns the snapshot as it was before fn ran together
// with the new revision.
func (s *Store) Apply(fn func(ev *Event) error) (before *Event, rev uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.event == nil {
		return nil, s.revision, ErrEventNotFound
	}

	working := s.event.Clone()
	if err := fn(working); err != nil {
		return nil, s.revision, err
	}

	before = s.event
	s.event = working
	s.changed()
	return before.Clone(), s.revision, nil
}

// Restore puts back a snapshot previously returned by Apply.
func (s *Store) Restore(ev *Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = ev.Clone()
	s.changed()
	return s.revision
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = nil
	s.changed()
}

func (s *Store) Balances() Balances {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.event == nil {
		return Balances{}
	}
	return CalculateBalances(s.event.Participants, s.event.Expenses)
}

func (s *Store) Debts() []Debt {
	balances := s.Balances()
	if !balances.Balanced() {
		slog.Warn("balances do not net to zero", "sum", balances.Sum().String())
	}
	return SimplifyDebts(balances)
}

func (s *Store) TotalSpend() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.event == nil {
		return decimal.Zero
	}
	return s.event.TotalSpend()
}
