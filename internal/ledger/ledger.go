package ledger

import (
	"context"
	"encoding/json"
)

// TxStatus is the finality state of a submitted operation.
type TxStatus string

const (
	TxNotFound TxStatus = "NOT_FOUND"
	TxPending  TxStatus = "PENDING"
	TxSuccess  TxStatus = "SUCCESS"
	TxFailed   TxStatus = "FAILED"
)

// Ledger is the read/write boundary to the authoritative settlement ledger.
// Reads return raw contract-storage entries so the codec stays the single
// decode path; writes go through the simulate/submit/poll protocol. The
// transaction pipeline is the only component permitted to call Simulate and
// Submit.
type Ledger interface {
	// FundEntry returns the raw stored entry for a fund id, or ErrNotFound.
	FundEntry(ctx context.Context, id uint64) (json.RawMessage, error)

	// NextFundID returns the id high-water mark: the id the next created
	// fund will receive. Zero when the contract has no funds yet.
	NextFundID(ctx context.Context) (uint64, error)

	// Simulate dry-runs an encoded operation against current ledger state
	// without committing. A guard or balance failure surfaces as a
	// *RejectedError.
	Simulate(ctx context.Context, op *Operation) error

	// Submit broadcasts a signed operation exactly once and returns the
	// transaction hash. A *RejectedError means the ledger refused the
	// operation; any other error is a transport failure.
	Submit(ctx context.Context, signed *SignedOperation) (string, error)

	// TxStatus reports the finality state of a submitted transaction.
	TxStatus(ctx context.Context, txHash string) (TxStatus, error)
}
