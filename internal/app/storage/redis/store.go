// Package redis provides the Redis-backed metadata store for deployments
// that already run Redis and want metadata to survive process restarts
// without a relational database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/proofpay/settlement-coordinator/internal/app/storage"
)

const keyPrefix = "fund:meta:"

// Store implements storage.MetadataStore on top of Redis. Records are
// stored as JSON under fund:meta:<id>.
type Store struct {
	client *goredis.Client
}

// New creates a Store using the provided Redis client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

func metaKey(fundID uint64) string {
	return fmt.Sprintf("%s%d", keyPrefix, fundID)
}

func (s *Store) SaveMetadata(ctx context.Context, fundID uint64, meta storage.Metadata) error {
	meta.SchemaVersion = storage.SchemaVersion
	meta.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.client.Set(ctx, metaKey(fundID), payload, 0).Err()
}

func (s *Store) GetMetadata(ctx context.Context, fundID uint64) (storage.Metadata, error) {
	payload, err := s.client.Get(ctx, metaKey(fundID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.Metadata{}, storage.ErrMetadataNotFound
	}
	if err != nil {
		return storage.Metadata{}, err
	}

	var meta storage.Metadata
	if err := json.Unmarshal(payload, &meta); err != nil {
		return storage.Metadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

var _ storage.MetadataStore = (*Store)(nil)
