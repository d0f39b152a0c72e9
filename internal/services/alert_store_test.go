package services

import (
	"context"
	"fmt"
	"testing"

	"logitrack/internal/models"
	"logitrack/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertStore_CapAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewAlertStore(storage.NewMemoryStore(), 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Add(ctx, models.SmartAlert{ID: fmt.Sprintf("a%d", i)}))
	}
	alerts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, "a4", alerts[0].ID)
	assert.Equal(t, "a2", alerts[2].ID)
}

func TestAlertStore_MarkRead(t *testing.T) {
	ctx := context.Background()
	store := NewAlertStore(newSQLiteKV(t), 0)
	require.NoError(t, store.Add(ctx, models.SmartAlert{ID: "a1"}, models.SmartAlert{ID: "a2"}, models.SmartAlert{ID: "a3"}))

	ok, err := store.MarkRead(ctx, "a2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkRead(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	alerts, err := store.List(ctx)
	require.NoError(t, err)
	for _, a := range alerts {
		assert.True(t, a.Leida, a.ID)
	}
}
