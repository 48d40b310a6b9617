package eventlogger

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlEventLogger(t *testing.T) {
	dsn := os.Getenv("ACASINHA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping Postgres test - set ACASINHA_TEST_DATABASE_URL to run")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	el := NewSqlEventLogger(db)
	require.NoError(t, el.Migrate(ctx))

	ledgerID := uuid.New()
	eventType := "expense.added." + ledgerID.String()
	added := NewEvent(
		WithType(eventType),
		WithLedger(ledgerID),
		WithData(map[string]string{"state": "committed"}),
		WithMetadata("mutation", "1"),
	)
	require.NoError(t, el.Save(ctx, added))
	health := NewEvent(WithType(eventType))
	require.NoError(t, el.Save(ctx, health))

	byLedger, err := el.GetByLedger(ctx, ledgerID)
	require.NoError(t, err)
	require.Len(t, byLedger, 1)
	assert.Equal(t, added.ID, byLedger[0].ID)
	assert.Equal(t, map[string]string{"mutation": "1"}, byLedger[0].Metadata)
	assert.JSONEq(t, `{"state":"committed"}`, string(byLedger[0].Data.(json.RawMessage)))

	byType, err := el.GetByType(ctx, eventType)
	require.NoError(t, err)
	require.Len(t, byType, 2)
	for _, e := range byType {
		if e.ID == health.ID {
			assert.Equal(t, uuid.Nil, e.LedgerID, "events without a ledger keep it empty")
		}
	}
}
