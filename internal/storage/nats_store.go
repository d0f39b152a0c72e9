package storage

import (
	"context"
	"errors"
	"fmt"

	"logitrack/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

// NATSStore persists values in a JetStream key-value bucket.
type NATSStore struct {
	conn   *nats.Conn
	bucket jetstream.KeyValue
	logger *logrus.Logger
}

// NewNATSStore connects to cfg.URL and creates (or reuses) cfg.Bucket.
func NewNATSStore(ctx context.Context, cfg config.NATSConfig, logger *logrus.Logger) (*NATSStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("logitrack"), nats.Timeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, errors.Join(ErrUnavailable, err))
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	bucketName := cfg.Bucket
	if bucketName == "" {
		bucketName = "logitrack_automation"
	}
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Automation rules, executions and alerts",
		History:     5,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create kv bucket %s: %w", bucketName, err)
	}
	logger.Infof("storage: using NATS KV bucket %s at %s", bucketName, url)
	return &NATSStore{conn: nc, bucket: bucket, logger: logger}, nil
}

func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.bucket.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return entry.Value(), nil
}

func (s *NATSStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.bucket.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
