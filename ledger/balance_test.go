package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBalances(t *testing.T) {
	roster := []Participant{alice, bob, carol}

	testCases := []struct {
		name     string
		roster   []Participant
		expenses []Expense
		want     map[uuid.UUID]string
	}{
		{
			name:   "no expenses still lists everyone",
			roster: roster,
			want:   map[uuid.UUID]string{alice.ID: "0", bob.ID: "0", carol.ID: "0"},
		},
		{
			name:     "split among everyone",
			roster:   roster,
			expenses: []Expense{expense(t, alice, "90", KindExpense, alice, bob, carol)},
			want:     map[uuid.UUID]string{alice.ID: "60", bob.ID: "-30", carol.ID: "-30"},
		},
		{
			name:     "single beneficiary",
			roster:   roster,
			expenses: []Expense{expense(t, alice, "50", KindExpense, bob)},
			want:     map[uuid.UUID]string{alice.ID: "50", bob.ID: "-50", carol.ID: "0"},
		},
		{
			name:   "settlement after a shared expense",
			roster: roster,
			expenses: []Expense{
				expense(t, alice, "90", KindExpense, alice, bob, carol),
				expense(t, bob, "30", KindSettlement, alice),
			},
			want: map[uuid.UUID]string{alice.ID: "30", bob.ID: "0", carol.ID: "-30"},
		},
		{
			name:     "empty beneficiaries means current roster",
			roster:   roster,
			expenses: []Expense{expense(t, carol, "30", KindExpense)},
			want:     map[uuid.UUID]string{alice.ID: "-10", bob.ID: "-10", carol.ID: "20"},
		},
		{
			name:     "removed beneficiary is skipped",
			roster:   []Participant{alice, bob},
			expenses: []Expense{expense(t, alice, "90", KindExpense, alice, bob, carol)},
			want:     map[uuid.UUID]string{alice.ID: "60", bob.ID: "-30"},
		},
		{
			name:     "no roster and no beneficiaries contributes nothing",
			roster:   nil,
			expenses: []Expense{expense(t, alice, "10", KindExpense)},
			want:     map[uuid.UUID]string{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateBalances(tc.roster, tc.expenses)
			require.Len(t, got, len(tc.want))
			for id, want := range tc.want {
				assert.True(t, equalDecimal(dec(t, want), got[id]), "balance of %s: want %s, got %s", id, want, got[id])
			}
		})
	}
}

func TestCalculateBalances_Conservation(t *testing.T) {
	roster := []Participant{alice, bob, carol}
	expenses := []Expense{
		expense(t, alice, "100", KindExpense, alice, bob, carol),
		expense(t, bob, "10.01", KindExpense, alice, carol),
		expense(t, carol, "0.07", KindExpense, alice, bob, carol),
		expense(t, carol, "33.33", KindSettlement, alice),
	}

	balances := CalculateBalances(roster, expenses)
	assert.True(t, balances.Balanced(), "sum = %s", balances.Sum())
}

func TestCalculateBalances_Idempotent(t *testing.T) {
	roster := []Participant{alice, bob, carol}
	expenses := []Expense{
		expense(t, alice, "100", KindExpense, alice, bob, carol),
		expense(t, bob, "12.5", KindExpense, carol),
	}

	first := CalculateBalances(roster, expenses)
	second := CalculateBalances(roster, expenses)
	assert.Equal(t, first, second)
}

func TestCalculateBalances_OrderIndependent(t *testing.T) {
	roster := []Participant{alice, bob, carol}
	a := expense(t, alice, "100", KindExpense, alice, bob, carol)
	b := expense(t, bob, "12.5", KindExpense, carol)

	forward := CalculateBalances(roster, []Expense{a, b})
	backward := CalculateBalances(roster, []Expense{b, a})
	for id := range forward {
		assert.True(t, forward[id].Equal(backward[id]))
	}
}
