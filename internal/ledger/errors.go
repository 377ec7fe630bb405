package ledger

import (
	"errors"
	"fmt"
)

// Structured failure codes returned by the settlement contract. The code
// table is fixed; causes must stay aligned with the deployed contract.
const (
	CodeFundNotFound         = 1
	CodeUnauthorized         = 2
	CodeDeadlineNotExpired   = 3
	CodeAlreadyApproved      = 4
	CodeAlreadyReleased      = 5
	CodeAlreadyRefunded      = 6
	CodeInvalidState         = 7
	CodeInsufficientBalance  = 8
	CodeNotInitialized       = 9
	CodeAlreadyInitialized   = 10
	CodeInvalidAmount        = 11
	CodeDeadlinePassed       = 12
	CodeFundExpired          = 13
	CodeNoProofSubmitted     = 14
	CodeInvalidConfiguration = 15
)

// rejectionCauses maps contract error codes to one short human-readable
// sentence. Raw codes are never surfaced to callers directly.
var rejectionCauses = map[int]string{
	CodeFundNotFound:         "The fund does not exist on the ledger.",
	CodeUnauthorized:         "The signing account is not authorized for this operation.",
	CodeDeadlineNotExpired:   "The deadline has not expired yet.",
	CodeAlreadyApproved:      "The proof has already been approved.",
	CodeAlreadyReleased:      "The funds have already been released.",
	CodeAlreadyRefunded:      "The funds have already been refunded.",
	CodeInvalidState:         "The fund is not in a state that accepts this operation.",
	CodeInsufficientBalance:  "The contract balance is insufficient to settle this fund.",
	CodeNotInitialized:       "The settlement contract is not initialized.",
	CodeAlreadyInitialized:   "The settlement contract already exists.",
	CodeInvalidAmount:        "The amount must be positive.",
	CodeDeadlinePassed:       "The deadline has already passed.",
	CodeFundExpired:          "The fund has expired; proof can no longer be submitted.",
	CodeNoProofSubmitted:     "No proof has been submitted for this fund.",
	CodeInvalidConfiguration: "Funder, beneficiary and verifier must be distinct accounts.",
}

// RejectedError is a structured failure returned by the ledger's simulate or
// submit phase. It is surfaced verbatim with its mapped cause and never
// retried automatically.
type RejectedError struct {
	Code   int
	Method string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected %s: error code %d: %s", e.Method, e.Code, e.Cause())
}

// Cause returns the human-readable sentence for the rejection.
func (e *RejectedError) Cause() string {
	if cause, ok := rejectionCauses[e.Code]; ok {
		return cause
	}
	return "The ledger refused the operation."
}

// ErrNotFound indicates the requested contract-storage entry does not exist.
var ErrNotFound = errors.New("ledger entry not found")

// ErrInvalidHashLength indicates a digest exceeded the fixed hash width
// after normalization.
var ErrInvalidHashLength = errors.New("hash is not exactly 32 bytes after padding")

// ErrMalformedEntry indicates a stored record that cannot be decoded.
// Such records are excluded from read results, never coerced.
var ErrMalformedEntry = errors.New("malformed ledger entry")

// malformed wraps ErrMalformedEntry with field-level detail.
func malformed(field string, err error) error {
	if err != nil {
		return fmt.Errorf("%w: field %s: %v", ErrMalformedEntry, field, err)
	}
	return fmt.Errorf("%w: missing field %s", ErrMalformedEntry, field)
}
