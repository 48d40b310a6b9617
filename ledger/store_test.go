package ledger

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.Replace(&Event{
		ID:           uuid.New(),
		Name:         "Trip",
		Currency:     "USD",
		Participants: []Participant{alice, bob, carol},
		Expenses:     []Expense{expense(t, alice, "90", KindExpense, alice, bob, carol)},
	})
	return s
}

func TestStore_Empty(t *testing.T) {
	s := NewStore()

	ev, rev := s.Get()
	assert.Nil(t, ev)
	assert.Zero(t, rev)
	assert.Empty(t, s.Balances())
	assert.Empty(t, s.Debts())
	assert.True(t, s.TotalSpend().IsZero())

	_, _, err := s.Apply(func(*Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestStore_DerivedValues(t *testing.T) {
	s := seededStore(t)

	balances := s.Balances()
	assert.True(t, balances[alice.ID].Equal(decimal.NewFromInt(60)))
	assert.True(t, balances[bob.ID].Equal(decimal.NewFromInt(-30)))
	assert.True(t, balances[carol.ID].Equal(decimal.NewFromInt(-30)))

	debts := s.Debts()
	require.Len(t, debts, 2)
	for _, d := range debts {
		assert.Equal(t, alice.ID, d.To)
		assert.True(t, d.Amount.Equal(decimal.NewFromInt(30)))
	}
	assert.True(t, s.TotalSpend().Equal(decimal.NewFromInt(90)))
}

func TestStore_ApplyAndRestore(t *testing.T) {
	s := seededStore(t)
	original, rev := s.Get()

	before, applied, err := s.Apply(func(ev *Event) error {
		ev.Expenses = append(ev.Expenses, expense(t, bob, "30", KindSettlement, alice))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, original, before)
	assert.Greater(t, applied, rev)

	current, _ := s.Get()
	assert.Len(t, current.Expenses, 2)

	s.Restore(before)
	restored, restoredRev := s.Get()
	assert.Equal(t, original, restored)
	assert.Greater(t, restoredRev, applied)
}

func TestStore_ApplyErrorLeavesSnapshot(t *testing.T) {
	s := seededStore(t)
	original, rev := s.Get()
	boom := errors.New("boom")

	_, _, err := s.Apply(func(ev *Event) error {
		ev.Participants = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)

	current, currentRev := s.Get()
	assert.Equal(t, original, current)
	assert.Equal(t, rev, currentRev)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := seededStore(t)

	ev, _ := s.Get()
	ev.Participants[0].Name = "changed"

	again, _ := s.Get()
	assert.Equal(t, "Alice", again.Participants[0].Name)
}

func TestStore_Clear(t *testing.T) {
	s := seededStore(t)
	rev := s.Revision()

	s.Clear()
	ev, clearedRev := s.Get()
	assert.Nil(t, ev)
	assert.Greater(t, clearedRev, rev)
}

func TestStore_Watch(t *testing.T) {
	s := seededStore(t)
	changes, stop := s.Watch()

	_, _, err := s.Apply(func(ev *Event) error {
		ev.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)
	s.Clear()

	// two changes, one pending signal
	_, ok := <-changes
	assert.True(t, ok)
	select {
	case <-changes:
		t.Fatal("signals should coalesce")
	default:
	}

	_, _, err = s.Apply(func(*Event) error { return errors.New("rejected") })
	assert.Error(t, err)
	select {
	case <-changes:
		t.Fatal("a rejected change is not signalled")
	default:
	}

	stop()
	stop()
	_, ok = <-changes
	assert.False(t, ok)
}
