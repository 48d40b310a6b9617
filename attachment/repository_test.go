package attachment

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository(t *testing.T) {
	dsn := os.Getenv("ACASINHA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping Postgres test - set ACASINHA_TEST_DATABASE_URL to run")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	store := NewRepository(db, 16)
	require.NoError(t, store.Migrate(ctx))
	eventID := uuid.New()

	assert.ErrorIs(t, store.Validate(make([]byte, 17)), ErrTooLarge)
	_, err = store.Put(ctx, eventID, nil)
	assert.ErrorIs(t, err, ErrEmpty)

	ref, err := store.Put(ctx, eventID, []byte("receipt"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Delete(context.Background(), ref) })
	assert.Equal(t, Ref(eventID, []byte("receipt")), ref)

	again, err := store.Put(ctx, eventID, []byte("receipt"))
	require.NoError(t, err, "storing the same bytes twice is not a conflict")
	assert.Equal(t, ref, again)

	data, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("receipt"), data)

	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref))
	_, err = store.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
}
