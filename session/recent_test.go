package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouch(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()

	recent := Touch(nil, first, "Beach house", base)
	recent = Touch(recent, second, "Ski trip", base.Add(time.Minute))
	require.Len(t, recent, 2)
	assert.Equal(t, second, recent[0].ID)

	recent = Touch(recent, first, "Beach house 2024", base.Add(2*time.Minute))
	require.Len(t, recent, 2, "revisiting does not duplicate")
	assert.Equal(t, first, recent[0].ID)
	assert.Equal(t, "Beach house 2024", recent[0].Name)
	assert.Equal(t, base.Add(2*time.Minute), recent[0].LastAccessed)
	assert.Equal(t, second, recent[1].ID)
}

func TestTouch_Cap(t *testing.T) {
	var recent []RecentEvent
	ids := make([]uuid.UUID, 0, 15)
	for i := range 15 {
		id := uuid.New()
		ids = append(ids, id)
		recent = Touch(recent, id, fmt.Sprintf("event %d", i), time.Now())
	}

	require.Len(t, recent, MaxRecent)
	assert.Equal(t, ids[14], recent[0].ID)
	assert.Equal(t, ids[5], recent[MaxRecent-1].ID)
}

func TestForget(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	recent := Touch(Touch(nil, a, "A", time.Now()), b, "B", time.Now())

	out := Forget(recent, a)
	require.Len(t, out, 1)
	assert.Equal(t, b, out[0].ID)
	assert.Len(t, recent, 2, "input is left alone")

	assert.Len(t, Forget(out, uuid.New()), 1)
}

func TestMemoryRecent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecent()

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	saved := Touch(nil, uuid.New(), "Trip", time.Now())
	require.NoError(t, store.Save(ctx, saved))
	saved[0].Name = "changed"

	list, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Trip", list[0].Name)
}
