package models

import "time"

// KVEntry 通用键值存储表
type KVEntry struct {
	Key       string    `gorm:"column:entry_key;primaryKey;size:191" json:"key"`
	Value     []byte    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (KVEntry) TableName() string { return "kv_entries" }
