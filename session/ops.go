package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/billbatista/acasinha-split/attachment"
	"github.com/billbatista/acasinha-split/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpenseInput is what a caller submits to add or edit an expense.
type ExpenseInput struct {
	Description   string
	Amount        decimal.Decimal
	PaidBy        uuid.UUID
	Beneficiaries []uuid.UUID
	// SplitAll splits among everyone on the roster at submit time. The
	// roster is stored with the expense, so later participants are not
	// included retroactively.
	SplitAll bool
	// Attachment, when set, is stored before the expense is written.
	Attachment []byte
}

func (c *Controller) AddParticipant(name string) (*Mutation, error) {
	c.mu.Lock()
	eventID := c.eventID
	c.mu.Unlock()

	p, err := ledger.NewParticipant(eventID, name)
	if err != nil {
		return nil, err
	}

	return c.mutate(ledger.OpAddParticipant, p.ID,
		func(ev *ledger.Event) error {
			p.EventID = ev.ID
			ev.Participants = append(ev.Participants, p)
			return nil
		},
		func(ctx context.Context) error {
			return c.repo.CreateParticipant(ctx, p)
		},
	)
}

func (c *Controller) UpdateParticipant(id uuid.UUID, name string) (*Mutation, error) {
	var updated ledger.Participant
	return c.mutate(ledger.OpUpdateParticipant, id,
		func(ev *ledger.Event) error {
			p := ev.Participant(id)
			if p == nil {
				return ledger.ErrParticipantMissing
			}
			renamed, err := ledger.NewParticipant(ev.ID, name)
			if err != nil {
				return err
			}
			p.Name = renamed.Name
			updated = *p
			return nil
		},
		func(ctx context.Context) error {
			return c.repo.UpdateParticipant(ctx, updated)
		},
	)
}

// DeleteParticipant is refused while the participant paid for an expense or
// is the only one sharing one. Otherwise the id is also removed from every
// beneficiary set.
func (c *Controller) DeleteParticipant(id uuid.UUID) (*Mutation, error) {
	var eventID uuid.UUID
	return c.mutate(ledger.OpDeleteParticipant, id,
		func(ev *ledger.Event) error {
			if err := ev.CanRemoveParticipant(id); err != nil {
				return err
			}
			eventID = ev.ID
			ev.RemoveParticipant(id)
			return nil
		},
		func(ctx context.Context) error {
			return c.repo.DeleteParticipant(ctx, eventID, id)
		},
	)
}

func (c *Controller) AddExpense(in ExpenseInput) (*Mutation, error) {
	return c.addExpense(ledger.OpAddExpense, in, ledger.KindExpense)
}

func (c *Controller) addExpense(op ledger.Op, in ExpenseInput, kind ledger.ExpenseKind) (*Mutation, error) {
	if len(in.Attachment) > 0 && c.attachments == nil {
		return nil, ErrAttachmentsMissing
	}

	var e ledger.Expense
	var siblings []ledger.Expense
	expenseID := uuid.New()

	return c.mutate(op, expenseID,
		func(ev *ledger.Event) error {
			beneficiaries := in.Beneficiaries
			if in.SplitAll {
				beneficiaries = ev.ParticipantIDs()
			}

			var err error
			e, err = ledger.NewExpense(ev.ID, in.Description, in.Amount, in.PaidBy, beneficiaries, kind)
			if err != nil {
				return err
			}
			e.ID = expenseID
			if err := ev.Validate(e); err != nil {
				return err
			}
			if len(in.Attachment) > 0 {
				if err := c.attachments.Validate(in.Attachment); err != nil {
					return err
				}
				e.Attachment = attachment.Ref(ev.ID, in.Attachment)
			}

			siblings = slices.Clone(ev.Expenses)
			ev.Expenses = append(ev.Expenses, e)
			return nil
		},
		func(ctx context.Context) error {
			if len(in.Attachment) > 0 {
				ref, err := c.attachments.Put(ctx, e.EventID, in.Attachment)
				if err != nil {
					return fmt.Errorf("storing attachment: %w", err)
				}
				e.Attachment = ref
			}

			if err := c.repo.CreateExpense(ctx, e); err != nil {
				if !referenced(siblings, e.Attachment) {
					c.cleanup(ctx, e.Attachment)
				}
				return err
			}
			return nil
		},
	)
}

// UpdateExpense edits an expense in place. A nil in.Attachment keeps the
// current attachment. A settlement keeps its kind, so it must still name a
// single payee and passes the overpayment policy again.
func (c *Controller) UpdateExpense(id uuid.UUID, in ExpenseInput) (*Mutation, error) {
	if len(in.Attachment) > 0 && c.attachments == nil {
		return nil, ErrAttachmentsMissing
	}

	var updated ledger.Expense
	var previous string
	var others []ledger.Expense

	return c.mutate(ledger.OpUpdateExpense, id,
		func(ev *ledger.Event) error {
			existing := ev.Expense(id)
			if existing == nil {
				return ledger.ErrExpenseMissing
			}

			beneficiaries := in.Beneficiaries
			if in.SplitAll {
				beneficiaries = ev.ParticipantIDs()
			}

			e, err := ledger.NewExpense(ev.ID, in.Description, in.Amount, in.PaidBy, beneficiaries, existing.Kind)
			if err != nil {
				return err
			}
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			e.Attachment = existing.Attachment
			if len(in.Attachment) > 0 {
				if err := c.attachments.Validate(in.Attachment); err != nil {
					return err
				}
				e.Attachment = attachment.Ref(ev.ID, in.Attachment)
			}
			if err := ev.Validate(e); err != nil {
				return err
			}

			others = slices.DeleteFunc(slices.Clone(ev.Expenses), func(x ledger.Expense) bool {
				return x.ID == id
			})
			if e.Kind == ledger.KindSettlement {
				if len(e.Beneficiaries) != 1 {
					return ledger.ErrSettlementPayee
				}
				if err := c.checkSettlement(ev.Participants, others, e.PaidBy, e.Beneficiaries[0], e.Amount); err != nil {
					return err
				}
			}

			previous = existing.Attachment
			*existing = e
			updated = e
			return nil
		},
		func(ctx context.Context) error {
			if len(in.Attachment) > 0 {
				ref, err := c.attachments.Put(ctx, updated.EventID, in.Attachment)
				if err != nil {
					return fmt.Errorf("storing attachment: %w", err)
				}
				updated.Attachment = ref
			}

			if err := c.repo.UpdateExpense(ctx, updated); err != nil {
				if updated.Attachment != previous && !referenced(others, updated.Attachment) {
					c.cleanup(ctx, updated.Attachment)
				}
				return err
			}

			if previous != updated.Attachment && !referenced(others, previous) {
				c.cleanup(ctx, previous)
			}
			return nil
		},
	)
}

func (c *Controller) DeleteExpense(id uuid.UUID) (*Mutation, error) {
	var removed ledger.Expense
	var others []ledger.Expense

	return c.mutate(ledger.OpDeleteExpense, id,
		func(ev *ledger.Event) error {
			e := ev.Expense(id)
			if e == nil {
				return ledger.ErrExpenseMissing
			}
			removed = *e
			ev.RemoveExpense(id)
			others = slices.Clone(ev.Expenses)
			return nil
		},
		func(ctx context.Context) error {
			if err := c.repo.DeleteExpense(ctx, removed.EventID, id); err != nil {
				return err
			}
			if !referenced(others, removed.Attachment) {
				c.cleanup(ctx, removed.Attachment)
			}
			return nil
		},
	)
}

// RecordSettlement records that from paid to the given amount. Unless
// overpayment is allowed, the amount may not exceed what from owes or what
// to is owed, give or take a cent.
func (c *Controller) RecordSettlement(from, to uuid.UUID, amount decimal.Decimal) (*Mutation, error) {
	if from == to {
		return nil, ledger.ErrSelfSettlement
	}

	var e ledger.Expense
	expenseID := uuid.New()

	return c.mutate(ledger.OpRecordSettlement, expenseID,
		func(ev *ledger.Event) error {
			payer, payee := ev.Participant(from), ev.Participant(to)
			if payer == nil || payee == nil {
				return ledger.ErrUnknownParticipant
			}

			if err := c.checkSettlement(ev.Participants, ev.Expenses, from, to, amount); err != nil {
				return err
			}

			description := fmt.Sprintf("Settlement: %s paid %s", payer.Name, payee.Name)
			var err error
			e, err = ledger.NewExpense(ev.ID, description, amount, from, []uuid.UUID{to}, ledger.KindSettlement)
			if err != nil {
				return err
			}
			e.ID = expenseID
			if err := ev.Validate(e); err != nil {
				return err
			}
			ev.Expenses = append(ev.Expenses, e)
			return nil
		},
		func(ctx context.Context) error {
			return c.repo.CreateExpense(ctx, e)
		},
	)
}

// DeleteEvent clears the local snapshot at once. Attachments are removed
// after the event itself, and failing to remove them does not fail the
// deletion.
func (c *Controller) DeleteEvent() (*Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventID == uuid.Nil {
		return nil, ErrNoActiveEvent
	}

	before, _ := c.store.Get()
	if before == nil {
		return nil, ledger.ErrEventNotFound
	}

	m := c.newMutation(ledger.OpDeleteEvent, before.ID)
	m.setState(Applying)
	c.store.Clear()
	m.before = before

	m.persist = func(ctx context.Context) error {
		if err := c.repo.DeleteEvent(ctx, before.ID); err != nil {
			return err
		}
		var refs []string
		for _, e := range before.Expenses {
			if e.Attachment != "" && !slices.Contains(refs, e.Attachment) {
				refs = append(refs, e.Attachment)
			}
		}
		c.cleanup(ctx, refs...)
		return nil
	}
	// runs in settle with mu held
	m.committed = func() {
		c.deactivate()
		c.store.Clear()
		c.wg.Go(func() {
			c.updateRecent(context.Background(), func(recent []RecentEvent) []RecentEvent {
				return Forget(recent, before.ID)
			})
		})
	}

	c.launch(m)
	return m, nil
}

// checkSettlement applies the overpayment policy to a payment from -> to
// made on top of expenses.
func (c *Controller) checkSettlement(participants []ledger.Participant, expenses []ledger.Expense, from, to uuid.UUID, amount decimal.Decimal) error {
	if from == to {
		return ledger.ErrSelfSettlement
	}
	if c.allowOverpayment {
		return nil
	}
	balances := ledger.CalculateBalances(participants, expenses)
	limit := decimal.Min(balances[from].Neg(), balances[to])
	if amount.GreaterThan(limit.Add(ledger.Epsilon)) {
		return ledger.ErrOverpayment
	}
	return nil
}

func referenced(expenses []ledger.Expense, ref string) bool {
	if ref == "" {
		return false
	}
	return slices.ContainsFunc(expenses, func(e ledger.Expense) bool {
		return e.Attachment == ref
	})
}
