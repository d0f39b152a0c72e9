// Package storage provides the key-value persistence port used by the automation engine and
// its backends (SQL through gorm, NATS JetStream KV, in-memory).
package storage

import (
	"context"
	"errors"
	"fmt"

	"logitrack/internal/config"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Logical keys of the persisted collections.
const (
	KeyRules      = "automation_rules"
	KeyExecutions = "workflow_executions"
	KeyAlerts     = "smart_alerts"
)

// ErrUnavailable is returned when the backing store cannot be reached.
var ErrUnavailable = errors.New("storage unavailable")

// KeyValueStore is the persistence port. Get returns (nil, nil) for a missing key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Open builds the store selected by cfg.Storage.Backend. db may be nil unless the backend is
// "database".
func Open(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *logrus.Logger) (KeyValueStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Storage.Backend {
	case "", "database":
		if db == nil {
			return nil, noop, fmt.Errorf("storage backend database: %w", ErrUnavailable)
		}
		store, err := NewGormStore(db, true)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "nats":
		store, err := NewNATSStore(ctx, cfg.Storage.NATS, logger)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "memory":
		return NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}
