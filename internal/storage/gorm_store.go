package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"logitrack/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists values in the kv_entries table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db; migrate runs AutoMigrate for the kv_entries table.
func NewGormStore(db *gorm.DB, migrate bool) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store: %w", ErrUnavailable)
	}
	if migrate {
		if err := db.AutoMigrate(&models.KVEntry{}); err != nil {
			return nil, fmt.Errorf("migrate kv_entries: %w", err)
		}
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry models.KVEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	entry := models.KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
