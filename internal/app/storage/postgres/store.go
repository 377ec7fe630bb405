// Package postgres provides the PostgreSQL-backed metadata store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/storage"
)

// Store implements storage.MetadataStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the metadata table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fund_metadata (
			fund_id           BIGINT PRIMARY KEY,
			schema_version    INT NOT NULL DEFAULT 0,
			conditions        TEXT NOT NULL DEFAULT '',
			proof_description TEXT NOT NULL DEFAULT '',
			document_ref      TEXT NOT NULL DEFAULT '',
			updated_at        TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

func (s *Store) SaveMetadata(ctx context.Context, fundID uint64, meta storage.Metadata) error {
	meta.SchemaVersion = storage.SchemaVersion
	meta.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_metadata (fund_id, schema_version, conditions, proof_description, document_ref, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (fund_id) DO UPDATE
		SET schema_version = $2, conditions = $3, proof_description = $4, document_ref = $5, updated_at = $6
	`, int64(fundID), meta.SchemaVersion, meta.Conditions, meta.ProofDescription, meta.DocumentRef, meta.UpdatedAt)
	return err
}

func (s *Store) GetMetadata(ctx context.Context, fundID uint64) (storage.Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT schema_version, conditions, proof_description, document_ref, updated_at
		FROM fund_metadata
		WHERE fund_id = $1
	`, int64(fundID))

	var meta storage.Metadata
	err := row.Scan(&meta.SchemaVersion, &meta.Conditions, &meta.ProofDescription, &meta.DocumentRef, &meta.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Metadata{}, storage.ErrMetadataNotFound
	}
	if err != nil {
		return storage.Metadata{}, err
	}
	return meta, nil
}

var _ storage.MetadataStore = (*Store)(nil)
