package session

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepository_Save(t *testing.T) {
	dsn := os.Getenv("ACASINHA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping Postgres test - set ACASINHA_TEST_DATABASE_URL to run")
	}
	ctx := context.Background()

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	r := NewRepository(db)
	require.NoError(t, r.Migrate(ctx))
	t.Cleanup(func() { r.Save(context.Background(), nil) })

	now := time.Now().UTC().Truncate(time.Microsecond)
	var recent []RecentEvent
	for i, name := range []string{"Trip", "Flat", "Wedding"} {
		recent = Touch(recent, uuid.New(), name, now.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, r.Save(ctx, recent))

	got, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Wedding", "Flat", "Trip"}, []string{got[0].Name, got[1].Name, got[2].Name})
	assert.True(t, got[0].LastAccessed.Equal(now.Add(2*time.Minute)))

	// a failing insert leaves the stored list as it was
	duplicate := []RecentEvent{recent[0], recent[0]}
	assert.Error(t, r.Save(ctx, duplicate))
	got, err = r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.NoError(t, r.Save(ctx, Forget(recent, recent[0].ID)))
	got, err = r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Flat", got[0].Name)
}
