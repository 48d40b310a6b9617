package ledger

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ExpenseKind string

const (
	KindExpense ExpenseKind = "expense"
	// KindSettlement records a debt payment: payer is the debtor, the sole
	// beneficiary is the creditor. Counted in balances, not in spend totals.
	KindSettlement ExpenseKind = "settlement"
)

const DefaultCurrency = "USD"

// Amounts are stored as numeric(16, 4).
const maxAmountScale = 4

var maxAmount = decimal.New(1, 12)

// Event is one group's ledger: its roster and every expense recorded in it.
type Event struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Participants []Participant `json:"participants"`
	Expenses     []Expense     `json:"expenses"`
	CreatedAt    time.Time     `json:"created_at"`
}

type Participant struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"event_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Expense struct {
	ID            uuid.UUID       `json:"id"`
	EventID       uuid.UUID       `json:"event_id"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	PaidBy        uuid.UUID       `json:"paid_by"`
	Beneficiaries []uuid.UUID     `json:"beneficiaries"`
	Kind          ExpenseKind     `json:"kind"`
	Attachment    string          `json:"attachment,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Debt is a single settlement instruction.
type Debt struct {
	From   uuid.UUID       `json:"from"`
	To     uuid.UUID       `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

var (
	ErrEmptyName          = errors.New("name can't be empty")
	ErrUnknownCurrency    = errors.New("unknown currency code")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrEmptyDescription   = errors.New("description can't be empty")
	ErrNoBeneficiaries    = errors.New("expense must be split among at least one participant")
	ErrUnknownParticipant = errors.New("participant is not part of this event")
	ErrParticipantMissing = errors.New("participant not found")
	ErrExpenseMissing     = errors.New("expense not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrAlreadyExists      = errors.New("record already exists")
	ErrPayerHasExpenses   = errors.New("participant paid for expenses: remove or reassign their expenses first")
	ErrSoleBeneficiary    = errors.New("participant is the only one sharing an expense: remove or edit that expense first")
	ErrSelfSettlement     = errors.New("settlement must be between two different participants")
	ErrOverpayment        = errors.New("settlement exceeds the outstanding debt")
	ErrSettlementPayee    = errors.New("settlement must have exactly one payee")
	ErrAmountPrecision    = errors.New("amount has more decimal places than the currency allows")
)

func NewEvent(name, currency string) (Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Event{}, ErrEmptyName
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if money.GetCurrency(currency) == nil {
		return Event{}, ErrUnknownCurrency
	}

	return Event{
		ID:        uuid.New(),
		Name:      name,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func NewParticipant(eventID uuid.UUID, name string) (Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Participant{}, ErrEmptyName
	}

	return Participant{
		ID:        uuid.New(),
		EventID:   eventID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func NewExpense(eventID uuid.UUID, description string, amount decimal.Decimal, paidBy uuid.UUID, beneficiaries []uuid.UUID, kind ExpenseKind) (Expense, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Expense{}, ErrEmptyDescription
	}

	if err := checkAmount(amount, maxAmountScale); err != nil {
		return Expense{}, err
	}

	if len(beneficiaries) == 0 {
		return Expense{}, ErrNoBeneficiaries
	}

	if kind == "" {
		kind = KindExpense
	}

	return Expense{
		ID:            uuid.New(),
		EventID:       eventID,
		Description:   description,
		Amount:        amount,
		PaidBy:        paidBy,
		Beneficiaries: dedupe(beneficiaries),
		Kind:          kind,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Validate checks that e can be written against the roster of ev.
func (ev *Event) Validate(e Expense) error {
	if strings.TrimSpace(e.Description) == "" {
		return ErrEmptyDescription
	}
	scale := int32(maxAmountScale)
	if cur := money.GetCurrency(ev.Currency); cur != nil {
		scale = int32(cur.Fraction)
	}
	if err := checkAmount(e.Amount, scale); err != nil {
		return err
	}
	if len(e.Beneficiaries) == 0 {
		return ErrNoBeneficiaries
	}
	if ev.Participant(e.PaidBy) == nil {
		return ErrUnknownParticipant
	}
	for _, id := range e.Beneficiaries {
		if ev.Participant(id) == nil {
			return ErrUnknownParticipant
		}
	}
	return nil
}

func (ev *Event) Participant(id uuid.UUID) *Participant {
	for i := range ev.Participants {
		if ev.Participants[i].ID == id {
			return &ev.Participants[i]
		}
	}
	return nil
}

func (ev *Event) Expense(id uuid.UUID) *Expense {
	for i := range ev.Expenses {
		if ev.Expenses[i].ID == id {
			return &ev.Expenses[i]
		}
	}
	return nil
}

func (ev *Event) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(ev.Participants))
	for _, p := range ev.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// CanRemoveParticipant reports why participant id may not be removed, if anything.
func (ev *Event) CanRemoveParticipant(id uuid.UUID) error {
	if ev.Participant(id) == nil {
		return ErrParticipantMissing
	}
	for _, e := range ev.Expenses {
		if e.PaidBy == id {
			return ErrPayerHasExpenses
		}
		if len(e.Beneficiaries) == 1 && e.Beneficiaries[0] == id {
			return ErrSoleBeneficiary
		}
	}
	return nil
}

// RemoveParticipant drops the participant and strips their id from every
// beneficiary set. Callers check CanRemoveParticipant first.
func (ev *Event) RemoveParticipant(id uuid.UUID) {
	ev.Participants = slices.DeleteFunc(ev.Participants, func(p Participant) bool {
		return p.ID == id
	})
	for i := range ev.Expenses {
		ev.Expenses[i].Beneficiaries = slices.DeleteFunc(ev.Expenses[i].Beneficiaries, func(b uuid.UUID) bool {
			return b == id
		})
	}
}

func (ev *Event) RemoveExpense(id uuid.UUID) {
	ev.Expenses = slices.DeleteFunc(ev.Expenses, func(e Expense) bool {
		return e.ID == id
	})
}

// TotalSpend sums every expense except settlement transfers.
func (ev *Event) TotalSpend() decimal.Decimal {
	total := decimal.Zero
	for _, e := range ev.Expenses {
		if e.Kind == KindSettlement {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total
}

// Clone returns a deep copy safe to mutate independently.
func (ev *Event) Clone() *Event {
	if ev == nil {
		return nil
	}
	c := *ev
	c.Participants = slices.Clone(ev.Participants)
	c.Expenses = make([]Expense, len(ev.Expenses))
	for i, e := range ev.Expenses {
		e.Beneficiaries = slices.Clone(e.Beneficiaries)
		c.Expenses[i] = e
	}
	if ev.Expenses == nil {
		c.Expenses = nil
	}
	return &c
}

// Format renders amount in the event currency, e.g. "$12.50".
func Format(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	return money.New(amount.Shift(int32(cur.Fraction)).Round(0).IntPart(), cur.Code).Display()
}

func checkAmount(amount decimal.Decimal, scale int32) error {
	if !amount.IsPositive() || amount.GreaterThanOrEqual(maxAmount) {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(scale)) {
		return ErrAmountPrecision
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Repository is the authoritative store for events, participants and expenses.
type Repository interface {
	CreateEvent(ctx context.Context, ev Event) error
	// GetEvent returns the event with its full roster and expense list, or
	// ErrEventNotFound.
	GetEvent(ctx context.Context, eventID uuid.UUID) (*Event, error)
	DeleteEvent(ctx context.Context, eventID uuid.UUID) error

	CreateParticipant(ctx context.Context, p Participant) error
	UpdateParticipant(ctx context.Context, p Participant) error
	// DeleteParticipant also strips the participant from every beneficiary set.
	DeleteParticipant(ctx context.Context, eventID, participantID uuid.UUID) error

	CreateExpense(ctx context.Context, e Expense) error
	UpdateExpense(ctx context.Context, e Expense) error
	DeleteExpense(ctx context.Context, eventID, expenseID uuid.UUID) error

	// Subscribe signals on the returned channel whenever a participant or
	// expense of eventID changes. The channel is closed once ctx is done.
	Subscribe(ctx context.Context, eventID uuid.UUID) (<-chan struct{}, error)
}
