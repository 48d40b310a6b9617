package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	alice = Participant{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Name: "Alice"}
	bob   = Participant{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Name: "Bob"}
	carol = Participant{ID: uuid.MustParse("00000000-0000-0000-0000-00000000000c"), Name: "Carol"}
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return d
}

func expense(t *testing.T, payer Participant, amount string, kind ExpenseKind, beneficiaries ...Participant) Expense {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(beneficiaries))
	for _, b := range beneficiaries {
		ids = append(ids, b.ID)
	}
	return Expense{
		ID:            uuid.New(),
		Description:   "test",
		Amount:        dec(t, amount),
		PaidBy:        payer.ID,
		Beneficiaries: ids,
		Kind:          kind,
	}
}

// equalDecimal compares by value, ignoring exponent differences.
func equalDecimal(want, got decimal.Decimal) bool {
	return want.Equal(got)
}
