// Package storage defines the persistence boundary for off-ledger fund
// metadata. Implementations are interchangeable and selected at startup;
// business logic only ever sees the MetadataStore interface. The store is
// never authoritative for fund status.
package storage

import (
	"context"
	"errors"
	"time"
)

// SchemaVersion is the current metadata record layout version. Legacy
// records persisted without a version read back as version 0.
const SchemaVersion = 1

// Metadata is the off-ledger enrichment for a fund: human-readable text and
// document pointers that are not part of the authoritative settlement state.
type Metadata struct {
	SchemaVersion    int       `json:"schema_version"`
	Conditions       string    `json:"conditions"`
	ProofDescription string    `json:"proof_description"`
	DocumentRef      string    `json:"document_ref,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ErrMetadataNotFound indicates no metadata has been saved for a fund id.
// Callers fall back to Placeholder instead of failing.
var ErrMetadataNotFound = errors.New("fund metadata not found")

// Placeholder returns the generic metadata used when none has been saved.
func Placeholder() Metadata {
	return Metadata{
		SchemaVersion:    SchemaVersion,
		Conditions:       "Complete the milestone deliverables as specified in the agreement.",
		ProofDescription: "Proof submission pending.",
	}
}

// MetadataStore persists fund metadata keyed by fund id, scoped to the
// local agent. Cross-device consistency is explicitly not guaranteed.
type MetadataStore interface {
	SaveMetadata(ctx context.Context, fundID uint64, meta Metadata) error
	// GetMetadata returns ErrMetadataNotFound when the id has no record.
	GetMetadata(ctx context.Context, fundID uint64) (Metadata, error)
}
