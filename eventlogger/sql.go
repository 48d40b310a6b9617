package eventlogger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_audit (
	id             uuid PRIMARY KEY,
	event_type     text NOT NULL,
	ledger_id      uuid,
	event_data     jsonb,
	event_metadata jsonb,
	created_at     timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_audit_ledger_id_idx ON ledger_audit (ledger_id)`

type sqlEventLogger struct {
	db *sql.DB
}

func NewSqlEventLogger(db *sql.DB) *sqlEventLogger {
	return &sqlEventLogger{
		db: db,
	}
}

func (el *sqlEventLogger) Migrate(ctx context.Context) error {
	if _, err := el.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating audit table: %w", err)
	}
	return nil
}

func (el *sqlEventLogger) Save(ctx context.Context, e Event) error {
	jsonData, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	jsonMetadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encoding event metadata: %w", err)
	}

	var ledgerID any
	if e.LedgerID != uuid.Nil {
		ledgerID = e.LedgerID
	}

	statement := `INSERT INTO ledger_audit (id, event_type, ledger_id, event_data, event_metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = el.db.ExecContext(ctx, statement, e.ID, e.Type, ledgerID, string(jsonData), string(jsonMetadata), e.CreatedAt)
	return err
}

func (el *sqlEventLogger) GetByType(ctx context.Context, eventType string) ([]Event, error) {
	query := `SELECT id, event_type, ledger_id, event_data, event_metadata, created_at FROM ledger_audit WHERE event_type = $1 ORDER BY created_at`
	return el.query(ctx, query, eventType)
}

func (el *sqlEventLogger) GetByLedger(ctx context.Context, ledgerID uuid.UUID) ([]Event, error) {
	query := `SELECT id, event_type, ledger_id, event_data, event_metadata, created_at FROM ledger_audit WHERE ledger_id = $1 ORDER BY created_at`
	return el.query(ctx, query, ledgerID)
}

func (el *sqlEventLogger) query(ctx context.Context, query string, arg any) ([]Event, error) {
	result, err := el.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	events := make([]Event, 0)
	for result.Next() {
		var event Event
		var ledgerID uuid.NullUUID
		var jsonData, jsonMetadata []byte
		if err := result.Scan(&event.ID, &event.Type, &ledgerID, &jsonData, &jsonMetadata, &event.CreatedAt); err != nil {
			return events, err
		}
		event.LedgerID = ledgerID.UUID
		event.Data = json.RawMessage(jsonData)
		if err := json.Unmarshal(jsonMetadata, &event.Metadata); err != nil {
			return events, fmt.Errorf("decoding event metadata: %w", err)
		}

		events = append(events, event)
	}

	return events, result.Err()
}
