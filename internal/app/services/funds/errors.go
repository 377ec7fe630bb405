package funds

import (
	"errors"
	"fmt"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
)

// Timeout and transport failures are distinct from ledger rejections so
// callers can tell "we gave up waiting" apart from "the ledger refused".
var (
	// ErrSigningDeclined means the signer explicitly refused to sign.
	ErrSigningDeclined = errors.New("signing declined by user")

	// ErrSigningTimeout means no signature arrived within the configured
	// signing timeout. No ledger state was touched.
	ErrSigningTimeout = errors.New("signing timed out")

	// ErrSubmissionFailed means the signed operation could not be delivered
	// after the single permitted retry. Whether the ledger received it is
	// unknown.
	ErrSubmissionFailed = errors.New("submission failed")

	// ErrConfirmationTimeout means the polling budget was exhausted before
	// finality. This is a local give-up, not evidence of failure; the
	// ledger may still finalize the transaction later.
	ErrConfirmationTimeout = errors.New("confirmation timed out; outcome unknown")
)

// PipelineError wraps a failure with the phase it occurred in and, when the
// operation was already broadcast, the transaction hash.
type PipelineError struct {
	Phase  Phase
	TxHash string
	Err    error
}

func (e *PipelineError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("pipeline %s (tx %s): %v", e.Phase, e.TxHash, e.Err)
	}
	return fmt.Sprintf("pipeline %s: %v", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// HumanCause maps any coordinator error to one short, user-facing sentence.
// Raw ledger codes are never shown to callers.
func HumanCause(err error) string {
	if err == nil {
		return ""
	}

	var guard *fund.GuardViolation
	if errors.As(err, &guard) {
		return guard.Error()
	}
	var illegal *fund.IllegalTransition
	if errors.As(err, &illegal) {
		return illegal.Error()
	}
	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Cause()
	}

	switch {
	case errors.Is(err, ErrSigningDeclined):
		return "Transaction cancelled by user."
	case errors.Is(err, ErrSigningTimeout):
		return "The signing request timed out before a signature was returned."
	case errors.Is(err, ErrSubmissionFailed):
		return "Network connection failed while submitting. Please check the ledger RPC status."
	case errors.Is(err, ErrConfirmationTimeout):
		return "Confirmation is still pending. The outcome is unknown; check again later."
	case errors.Is(err, ledger.ErrMalformedEntry):
		return "The ledger record could not be decoded."
	case errors.Is(err, ledger.ErrNotFound):
		return "The fund does not exist on the ledger."
	}
	return "Transaction failed during simulation or execution. Check inputs and balance."
}
