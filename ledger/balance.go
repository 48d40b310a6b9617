package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance below which a balance counts as settled.
var Epsilon = decimal.New(1, -2)

// Balances maps a participant to what they are owed (positive) or owe (negative).
type Balances map[uuid.UUID]decimal.Decimal

// Sum is zero, within Epsilon, for any ledger that is internally consistent.
func (b Balances) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range b {
		sum = sum.Add(v)
	}
	return sum
}

func (b Balances) Balanced() bool {
	return b.Sum().Abs().LessThanOrEqual(Epsilon)
}

// CalculateBalances computes net balances for every current participant.
// An expense without beneficiaries is split among the current roster, and
// beneficiaries no longer on the roster are skipped.
func CalculateBalances(participants []Participant, expenses []Expense) Balances {
	balances := make(Balances, len(participants))

	// Initialize all members with 0 balance
	roster := make([]uuid.UUID, 0, len(participants))
	for _, p := range participants {
		balances[p.ID] = decimal.Zero
		roster = append(roster, p.ID)
	}

	for _, e := range expenses {
		involved := e.Beneficiaries
		if len(involved) == 0 {
			involved = roster
		}
		if len(involved) == 0 {
			continue
		}

		share := e.Amount.Div(decimal.NewFromInt(int64(len(involved))))

		balances[e.PaidBy] = balances[e.PaidBy].Add(e.Amount)

		for _, id := range involved {
			if v, ok := balances[id]; ok {
				balances[id] = v.Sub(share)
			}
		}
	}

	return balances
}
