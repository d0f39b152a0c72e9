package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"logitrack/internal/models"
	"logitrack/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execAt(id, regla, guia string, at time.Time) models.WorkflowExecution {
	return models.WorkflowExecution{
		ID:                 id,
		ReglaID:            regla,
		GuiaID:             guia,
		AccionesEjecutadas: []string{"tag_priority:ALTA"},
		Resultado:          models.ResultSuccess,
		Timestamp:          at,
	}
}

func TestExecutionHistory_CapKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	h := NewExecutionHistory(newSQLiteKV(t), 5)

	for i := 0; i < 8; i++ {
		_, err := h.Append(ctx, execAt(fmt.Sprintf("e%d", i), "r", "g", fixedNow.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "e7", list[0].ID)
	assert.Equal(t, "e3", list[4].ID)
}

func TestExecutionHistory_AppendBatchOrder(t *testing.T) {
	ctx := context.Background()
	h := NewExecutionHistory(storage.NewMemoryStore(), 0)

	_, err := h.Append(ctx, execAt("old", "r0", "g", fixedNow))
	require.NoError(t, err)
	prev, err := h.Append(ctx,
		execAt("first", "r1", "g", fixedNow),
		execAt("second", "r2", "g", fixedNow),
	)
	require.NoError(t, err)
	require.Len(t, prev, 1)

	list, err := h.List(ctx)
	require.NoError(t, err)
	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	assert.Equal(t, []string{"second", "first", "old"}, ids)
}

func TestExecutionHistory_ExistsWithinWindow(t *testing.T) {
	ctx := context.Background()
	h := NewExecutionHistory(storage.NewMemoryStore(), 10).WithClock(fixedClock)
	_, err := h.Append(ctx, execAt("e1", "r1", "g1", fixedNow.Add(-10*time.Hour)))
	require.NoError(t, err)

	ok, err := h.ExistsWithinWindow(ctx, "r1", "g1", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.ExistsWithinWindow(ctx, "r1", "g1", 5*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = h.ExistsWithinWindow(ctx, "r1", "g2", 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecutionHistory_Restore(t *testing.T) {
	ctx := context.Background()
	h := NewExecutionHistory(storage.NewMemoryStore(), 10)
	_, err := h.Append(ctx, execAt("keep", "r", "g", fixedNow))
	require.NoError(t, err)

	prev, err := h.Append(ctx, execAt("undo", "r", "g", fixedNow))
	require.NoError(t, err)
	require.NoError(t, h.Restore(ctx, prev))

	list, err := h.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "keep", list[0].ID)
}

func TestExecutionHistory_ReadFailureIsPersistenceError(t *testing.T) {
	kv := newFlakyKV()
	kv.failGet[storage.KeyExecutions] = true
	h := NewExecutionHistory(kv, 10)

	_, err := h.List(context.Background())
	require.Error(t, err)
	assert.True(t, IsPersistence(err))
}
