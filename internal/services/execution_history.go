package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"logitrack/internal/models"
	"logitrack/internal/storage"
)

// DefaultHistoryCap bounds the execution ledger.
const DefaultHistoryCap = 500

// ExecutionRepository is the ledger contract used by the engine.
type ExecutionRepository interface {
	List(ctx context.Context) ([]models.WorkflowExecution, error)
	Append(ctx context.Context, executions ...models.WorkflowExecution) ([]models.WorkflowExecution, error)
	Restore(ctx context.Context, snapshot []models.WorkflowExecution) error
	ExistsWithinWindow(ctx context.Context, reglaID, guiaID string, window time.Duration) (bool, error)
}

// ExecutionHistory is an append-only, capped ledger stored most-recent-first.
type ExecutionHistory struct {
	kv  storage.KeyValueStore
	cap int
	now Clock
	mu  sync.Mutex
}

func NewExecutionHistory(kv storage.KeyValueStore, capacity int) *ExecutionHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &ExecutionHistory{kv: kv, cap: capacity, now: time.Now}
}

// WithClock overrides the time source used by ExistsWithinWindow.
func (h *ExecutionHistory) WithClock(c Clock) *ExecutionHistory {
	h.now = c
	return h
}

// List returns executions in reverse-chronological order.
func (h *ExecutionHistory) List(ctx context.Context) ([]models.WorkflowExecution, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load(ctx)
}

// Append adds executions to the front of the ledger, in the order given (the first argument
// ends up deepest, the last one on top), and prunes the oldest entries beyond the cap.
// It returns the ledger as it was before the write so callers can roll back.
func (h *ExecutionHistory) Append(ctx context.Context, executions ...models.WorkflowExecution) ([]models.WorkflowExecution, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, err := h.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return prev, nil
	}
	next := make([]models.WorkflowExecution, 0, len(prev)+len(executions))
	for i := len(executions) - 1; i >= 0; i-- {
		next = append(next, executions[i])
	}
	next = append(next, prev...)
	if len(next) > h.cap {
		next = next[:h.cap]
	}
	if err := h.write(ctx, next); err != nil {
		return nil, err
	}
	return prev, nil
}

// Restore overwrites the ledger with a snapshot previously returned by Append.
func (h *ExecutionHistory) Restore(ctx context.Context, snapshot []models.WorkflowExecution) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.write(ctx, snapshot)
}

// ExistsWithinWindow reports whether (reglaID, guiaID) fired within the last window.
func (h *ExecutionHistory) ExistsWithinWindow(ctx context.Context, reglaID, guiaID string, window time.Duration) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	execs, err := h.load(ctx)
	if err != nil {
		return false, err
	}
	return existsWithin(execs, reglaID, guiaID, h.now().Add(-window)), nil
}

// existsWithin scans a ledger snapshot for a firing at or after since.
func existsWithin(execs []models.WorkflowExecution, reglaID, guiaID string, since time.Time) bool {
	for _, e := range execs {
		if e.ReglaID == reglaID && e.GuiaID == guiaID && !e.Timestamp.Before(since) {
			return true
		}
	}
	return false
}

func (h *ExecutionHistory) load(ctx context.Context) ([]models.WorkflowExecution, error) {
	data, err := h.kv.Get(ctx, storage.KeyExecutions)
	if err != nil {
		return nil, persistenceError("load executions", err)
	}
	if len(data) == 0 {
		return []models.WorkflowExecution{}, nil
	}
	var execs []models.WorkflowExecution
	if err := json.Unmarshal(data, &execs); err != nil {
		return nil, persistenceError("decode executions", err)
	}
	return execs, nil
}

func (h *ExecutionHistory) write(ctx context.Context, execs []models.WorkflowExecution) error {
	if execs == nil {
		execs = []models.WorkflowExecution{}
	}
	data, err := json.Marshal(execs)
	if err != nil {
		return persistenceError("encode executions", err)
	}
	if err := h.kv.Set(ctx, storage.KeyExecutions, data); err != nil {
		return persistenceError("save executions", err)
	}
	return nil
}
