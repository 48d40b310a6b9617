package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const changeChannel = "ledger_changes"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         uuid PRIMARY KEY,
	name       text NOT NULL,
	currency   text NOT NULL,
	created_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id         uuid PRIMARY KEY,
	event_id   uuid NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	name       text NOT NULL,
	created_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS expenses (
	id            uuid PRIMARY KEY,
	event_id      uuid NOT NULL REFERENCES events (id) ON DELETE CASCADE,
	description   text NOT NULL,
	amount        numeric(16, 4) NOT NULL CHECK (amount > 0),
	paid_by       uuid NOT NULL REFERENCES participants (id),
	beneficiaries uuid[] NOT NULL DEFAULT '{}',
	kind          text NOT NULL DEFAULT 'expense',
	attachment    text,
	created_at    timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS participants_event_id_idx ON participants (event_id);
CREATE INDEX IF NOT EXISTS expenses_event_id_idx ON expenses (event_id);

CREATE OR REPLACE FUNCTION notify_ledger_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('ledger_changes', OLD.event_id::text);
	ELSE
		PERFORM pg_notify('ledger_changes', NEW.event_id::text);
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS participants_notify ON participants;
CREATE TRIGGER participants_notify AFTER INSERT OR UPDATE OR DELETE ON participants
	FOR EACH ROW EXECUTE FUNCTION notify_ledger_change();

DROP TRIGGER IF EXISTS expenses_notify ON expenses;
CREATE TRIGGER expenses_notify AFTER INSERT OR UPDATE OR DELETE ON expenses
	FOR EACH ROW EXECUTE FUNCTION notify_ledger_change();
`

// Rows written before beneficiaries were mandatory get the roster as it
// stands at migration time.
const materializeBeneficiaries = `
UPDATE expenses e
SET beneficiaries = roster.ids
FROM (SELECT event_id, array_agg(id) AS ids FROM participants GROUP BY event_id) roster
WHERE roster.event_id = e.event_id AND cardinality(e.beneficiaries) = 0`

type repository struct {
	db  *sql.DB
	dsn string

	minReconnect time.Duration
	maxReconnect time.Duration
}

// NewRepository returns a Postgres backed Repository. dsn is used to open
// the dedicated LISTEN connections behind Subscribe.
func NewRepository(db *sql.DB, dsn string) *repository {
	return &repository{
		db:           db,
		dsn:          dsn,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
	}
}

func (r *repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	res, err := r.db.ExecContext(ctx, materializeBeneficiaries)
	if err != nil {
		return fmt.Errorf("materializing beneficiaries: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("materialized implicit beneficiaries", "expenses", n)
	}

	return nil
}

func (r *repository) CreateEvent(ctx context.Context, ev Event) error {
	query := `INSERT INTO events (id, name, currency, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, ev.ID, ev.Name, ev.Currency, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (r *repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*Event, error) {
	query := `SELECT id, name, currency, created_at FROM events WHERE id = $1`

	var ev Event
	err := r.db.QueryRowContext(ctx, query, eventID).Scan(
		&ev.ID,
		&ev.Name,
		&ev.Currency,
		&ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("querying event: %w", err)
	}

	ev.Participants, err = r.getParticipants(ctx, eventID)
	if err != nil {
		return nil, err
	}

	ev.Expenses, err = r.getExpenses(ctx, eventID)
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

func (r *repository) getParticipants(ctx context.Context, eventID uuid.UUID) ([]Participant, error) {
	query := `SELECT id, event_id, name, created_at FROM participants WHERE event_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.EventID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (r *repository) getExpenses(ctx context.Context, eventID uuid.UUID) ([]Expense, error) {
	query := `SELECT id, event_id, description, amount, paid_by, beneficiaries, kind, attachment, created_at
              FROM expenses
              WHERE event_id = $1
              ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying expenses: %w", err)
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		var e Expense
		var beneficiaries []string
		var attachment sql.NullString
		err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.Description,
			&e.Amount,
			&e.PaidBy,
			pq.Array(&beneficiaries),
			&e.Kind,
			&attachment,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		for _, b := range beneficiaries {
			id, err := uuid.Parse(b)
			if err != nil {
				return nil, fmt.Errorf("parsing beneficiary of expense %s: %w", e.ID, err)
			}
			e.Beneficiaries = append(e.Beneficiaries, id)
		}
		if attachment.Valid {
			e.Attachment = attachment.String
		}
		expenses = append(expenses, e)
	}

	return expenses, rows.Err()
}

func (r *repository) DeleteEvent(ctx context.Context, eventID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("deleting event: %w", err)
	}
	return expectRow(res, ErrEventNotFound)
}

func (r *repository) CreateParticipant(ctx context.Context, p Participant) error {
	query := `INSERT INTO participants (id, event_id, name, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.EventID, p.Name, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

func (r *repository) UpdateParticipant(ctx context.Context, p Participant) error {
	query := `UPDATE participants SET name = $1 WHERE id = $2 AND event_id = $3`
	res, err := r.db.ExecContext(ctx, query, p.Name, p.ID, p.EventID)
	if err != nil {
		return fmt.Errorf("updating participant: %w", err)
	}
	return expectRow(res, ErrParticipantMissing)
}

func (r *repository) DeleteParticipant(ctx context.Context, eventID, participantID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE expenses SET beneficiaries = array_remove(beneficiaries, $1) WHERE event_id = $2 AND $1 = ANY(beneficiaries)`
	if _, err := tx.ExecContext(ctx, query, participantID, eventID); err != nil {
		return fmt.Errorf("removing beneficiary: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM participants WHERE id = $1 AND event_id = $2`, participantID, eventID)
	if err != nil {
		return fmt.Errorf("deleting participant: %w", err)
	}
	if err := expectRow(res, ErrParticipantMissing); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *repository) CreateExpense(ctx context.Context, e Expense) error {
	query := `INSERT INTO expenses (id, event_id, description, amount, paid_by, beneficiaries, kind, attachment, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.EventID,
		e.Description,
		e.Amount,
		e.PaidBy,
		pq.Array(idStrings(e.Beneficiaries)),
		e.Kind,
		nullString(e.Attachment),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting expense: %w", err)
	}
	return nil
}

func (r *repository) UpdateExpense(ctx context.Context, e Expense) error {
	query := `UPDATE expenses
              SET description = $1, amount = $2, paid_by = $3, beneficiaries = $4, kind = $5, attachment = $6
              WHERE id = $7 AND event_id = $8`
	res, err := r.db.ExecContext(
		ctx,
		query,
		e.Description,
		e.Amount,
		e.PaidBy,
		pq.Array(idStrings(e.Beneficiaries)),
		e.Kind,
		nullString(e.Attachment),
		e.ID,
		e.EventID,
	)
	if err != nil {
		return fmt.Errorf("updating expense: %w", err)
	}
	return expectRow(res, ErrExpenseMissing)
}

func (r *repository) DeleteExpense(ctx context.Context, eventID, expenseID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1 AND event_id = $2`, expenseID, eventID)
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return expectRow(res, ErrExpenseMissing)
}

// Subscribe opens a dedicated LISTEN connection. A notification for another
// event is ignored; a reconnect is reported as a change since notifications
// may have been missed while disconnected.
func (r *repository) Subscribe(ctx context.Context, eventID uuid.UUID) (<-chan struct{}, error) {
	listener := pq.NewListener(r.dsn, r.minReconnect, r.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Error("change listener", "error", err, "event_id", eventID.String())
		}
	})
	if err := listener.Listen(changeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listening for changes: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer listener.Close()

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n != nil && n.Extra != eventID.String() {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
					// a signal is already pending
				}
			case <-ping.C:
				go listener.Ping()
			}
		}
	}()

	return out, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
