// Package memory provides the in-memory metadata store used in tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/storage"
)

// Store keeps metadata in a mutex-guarded map.
type Store struct {
	mu   sync.RWMutex
	meta map[uint64]storage.Metadata
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{meta: make(map[uint64]storage.Metadata)}
}

func (s *Store) SaveMetadata(ctx context.Context, fundID uint64, meta storage.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.SchemaVersion = storage.SchemaVersion
	meta.UpdatedAt = time.Now().UTC()
	s.meta[fundID] = meta
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, fundID uint64) (storage.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.meta[fundID]
	if !ok {
		return storage.Metadata{}, storage.ErrMetadataNotFound
	}
	return meta, nil
}

var _ storage.MetadataStore = (*Store)(nil)
