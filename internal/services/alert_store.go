package services

import (
	"context"
	"encoding/json"
	"sync"

	"logitrack/internal/models"
	"logitrack/internal/storage"
)

// DefaultAlertCap bounds the persisted alert list.
const DefaultAlertCap = 200

// AlertRepository persists smart alerts newest first.
type AlertRepository interface {
	List(ctx context.Context) ([]models.SmartAlert, error)
	Add(ctx context.Context, alerts ...models.SmartAlert) error
	MarkRead(ctx context.Context, id string) (bool, error)
	MarkAllRead(ctx context.Context) (int, error)
}

type AlertStore struct {
	kv  storage.KeyValueStore
	cap int
	mu  sync.Mutex
}

func NewAlertStore(kv storage.KeyValueStore, capacity int) *AlertStore {
	if capacity <= 0 {
		capacity = DefaultAlertCap
	}
	return &AlertStore{kv: kv, cap: capacity}
}

func (a *AlertStore) List(ctx context.Context) ([]models.SmartAlert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

// Add prepends alerts (the last argument ends up first) and drops the oldest beyond the cap.
func (a *AlertStore) Add(ctx context.Context, alerts ...models.SmartAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	current, err := a.load(ctx)
	if err != nil {
		return err
	}
	next := make([]models.SmartAlert, 0, len(alerts)+len(current))
	for i := len(alerts) - 1; i >= 0; i-- {
		next = append(next, alerts[i])
	}
	next = append(next, current...)
	if len(next) > a.cap {
		next = next[:a.cap]
	}
	return a.write(ctx, next)
}

// MarkRead flags one alert as read; false when the id is unknown.
func (a *AlertStore) MarkRead(ctx context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alerts, err := a.load(ctx)
	if err != nil {
		return false, err
	}
	for i := range alerts {
		if alerts[i].ID != id {
			continue
		}
		if alerts[i].Leida {
			return true, nil
		}
		alerts[i].Leida = true
		return true, a.write(ctx, alerts)
	}
	return false, nil
}

// MarkAllRead returns how many alerts changed.
func (a *AlertStore) MarkAllRead(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	alerts, err := a.load(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range alerts {
		if !alerts[i].Leida {
			alerts[i].Leida = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	return changed, a.write(ctx, alerts)
}

func (a *AlertStore) load(ctx context.Context) ([]models.SmartAlert, error) {
	data, err := a.kv.Get(ctx, storage.KeyAlerts)
	if err != nil {
		return nil, persistenceError("load alerts", err)
	}
	if len(data) == 0 {
		return []models.SmartAlert{}, nil
	}
	var alerts []models.SmartAlert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, persistenceError("decode alerts", err)
	}
	return alerts, nil
}

func (a *AlertStore) write(ctx context.Context, alerts []models.SmartAlert) error {
	data, err := json.Marshal(alerts)
	if err != nil {
		return persistenceError("encode alerts", err)
	}
	if err := a.kv.Set(ctx, storage.KeyAlerts, data); err != nil {
		return persistenceError("save alerts", err)
	}
	return nil
}
