package ledger

// Op names a ledger mutation. The values double as audit event types.
type Op string

const (
	OpCreateEvent       Op = "event.created"
	OpDeleteEvent       Op = "event.deleted"
	OpAddParticipant    Op = "participant.added"
	OpUpdateParticipant Op = "participant.updated"
	OpDeleteParticipant Op = "participant.deleted"
	OpAddExpense        Op = "expense.added"
	OpUpdateExpense     Op = "expense.updated"
	OpDeleteExpense     Op = "expense.deleted"
	OpRecordSettlement  Op = "settlement.recorded"
)
