package ledger

import (
	"bytes"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type party struct {
	id     uuid.UUID
	amount decimal.Decimal
}

// SimplifyDebts turns balances into settlement instructions by greedily
// matching the largest debtor with the largest creditor.
//
// It runs in O(n log n) and emits at most debtors+creditors-1 debts, since
// every step settles at least one party. The result is not always the
// minimum possible number of payments (finding that is NP-hard), but every
// balance is settled to within Epsilon. Ties are broken
// by participant id so the output is deterministic.
//
// The input is assumed to sum to zero; callers can check Balances.Balanced.
func SimplifyDebts(balances Balances) []Debt {
	var debtors, creditors []party
	for id, amount := range balances {
		rounded := amount.Round(2)
		if rounded.LessThan(Epsilon.Neg()) {
			debtors = append(debtors, party{id: id, amount: rounded.Neg()})
		}
		if rounded.GreaterThan(Epsilon) {
			creditors = append(creditors, party{id: id, amount: rounded})
		}
	}

	slices.SortFunc(debtors, byAmountDesc)
	slices.SortFunc(creditors, byAmountDesc)

	debts := make([]Debt, 0, len(debtors)+len(creditors))
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		debtor, creditor := &debtors[i], &creditors[j]

		amount := decimal.Min(debtor.amount, creditor.amount)
		if amount.IsPositive() {
			debts = append(debts, Debt{
				From:   debtor.id,
				To:     creditor.id,
				Amount: amount.Round(2),
			})
		}

		debtor.amount = debtor.amount.Sub(amount)
		creditor.amount = creditor.amount.Sub(amount)

		if debtor.amount.LessThan(Epsilon) {
			i++
		}
		if creditor.amount.LessThan(Epsilon) {
			j++
		}
	}

	return debts
}

func byAmountDesc(a, b party) int {
	if c := b.amount.Cmp(a.amount); c != 0 {
		return c
	}
	return bytes.Compare(a.id[:], b.id[:])
}
