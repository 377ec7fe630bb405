package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
)

// Fake is an in-memory Ledger implementation that reproduces the settlement
// contract's semantics: operations are applied atomically at submit time,
// guards are enforced with the contract's error codes, and finality is
// gated behind a configurable number of status polls. It exists for tests
// and local development only and never shares code paths with the RPC
// client.
type Fake struct {
	mu     sync.Mutex
	funds  map[uint64]fund.Fund
	rawPut map[uint64]json.RawMessage // raw overrides, e.g. malformed entries
	nextID uint64
	txSeq  int

	// FinalizeAfterPolls delays TxStatus reporting SUCCESS until that many
	// polls have been observed for the transaction. Zero finalizes on the
	// first poll.
	FinalizeAfterPolls int

	// SimulateErr, when set, fails every Simulate call.
	SimulateErr error

	// SubmitTransportFailures fails that many Submit calls with a plain
	// transport error before accepting one.
	SubmitTransportFailures int

	// Now supplies the ledger's clock; defaults to time.Now.
	Now func() time.Time

	txPolls map[string]int
}

// NewFake creates an empty fake ledger.
func NewFake() *Fake {
	return &Fake{
		funds:   make(map[uint64]fund.Fund),
		rawPut:  make(map[uint64]json.RawMessage),
		txPolls: make(map[string]int),
	}
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// SeedFund installs a fund record directly, bypassing the operation
// protocol. The high-water mark is advanced past the fund's id.
func (f *Fake) SeedFund(fd fund.Fund) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.funds[fd.ID] = fd
	if fd.ID >= f.nextID {
		f.nextID = fd.ID + 1
	}
}

// SeedRawEntry installs a raw entry for an id, e.g. an undecodable record.
func (f *Fake) SeedRawEntry(id uint64, raw json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawPut[id] = raw
	if id >= f.nextID {
		f.nextID = id + 1
	}
}

// FundState returns the fake's current record for an id.
func (f *Fake) FundState(id uint64) (fund.Fund, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.funds[id]
	return fd, ok
}

func (f *Fake) FundEntry(ctx context.Context, id uint64) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raw, ok := f.rawPut[id]; ok {
		return raw, nil
	}
	fd, ok := f.funds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return EncodeFundEntry(fd)
}

func (f *Fake) NextFundID(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID, nil
}

func (f *Fake) Simulate(ctx context.Context, op *Operation) error {
	if f.SimulateErr != nil {
		return f.SimulateErr
	}
	in, err := DecodeOperation(op)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err = f.apply(in, true)
	return err
}

func (f *Fake) Submit(ctx context.Context, signed *SignedOperation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubmitTransportFailures > 0 {
		f.SubmitTransportFailures--
		return "", fmt.Errorf("connection reset by peer")
	}

	var op Operation
	if err := json.Unmarshal(signed.Envelope, &op); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	in, err := DecodeOperation(&op)
	if err != nil {
		return "", err
	}

	// The ledger's atomic accept/reject: state mutates under the lock, so
	// concurrent submissions for the same fund serialize here.
	if _, err := f.apply(in, false); err != nil {
		return "", err
	}

	f.txSeq++
	hash := fmt.Sprintf("%064x", f.txSeq)
	f.txPolls[hash] = 0
	return hash, nil
}

func (f *Fake) TxStatus(ctx context.Context, txHash string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	polls, ok := f.txPolls[txHash]
	if !ok {
		return TxNotFound, nil
	}
	f.txPolls[txHash] = polls + 1
	if polls < f.FinalizeAfterPolls {
		return TxPending, nil
	}
	return TxSuccess, nil
}

// apply enforces the contract guards and, unless dryRun, mutates state.
// Callers must hold f.mu.
func (f *Fake) apply(in Intent, dryRun bool) (uint64, error) {
	switch in.Event {
	case fund.EventCreateFund:
		if in.Amount == nil || in.Amount.Sign() <= 0 {
			return 0, &RejectedError{Code: CodeInvalidAmount, Method: string(in.Event)}
		}
		if in.Deadline <= uint64(f.now().Unix()) {
			return 0, &RejectedError{Code: CodeDeadlinePassed, Method: string(in.Event)}
		}
		if strings.EqualFold(in.Caller, in.Beneficiary) ||
			strings.EqualFold(in.Caller, in.Verifier) ||
			strings.EqualFold(in.Beneficiary, in.Verifier) {
			return 0, &RejectedError{Code: CodeInvalidConfiguration, Method: string(in.Event)}
		}
		if dryRun {
			return f.nextID, nil
		}
		id := f.nextID
		f.nextID++
		f.funds[id] = fund.Fund{
			ID:              id,
			Funder:          in.Caller,
			Beneficiary:     in.Beneficiary,
			Verifier:        in.Verifier,
			Amount:          in.Amount,
			Deadline:        in.Deadline,
			RequirementHash: append(fund.HexBytes(nil), in.RequirementHash...),
			ProofHash:       make(fund.HexBytes, fund.HashSize),
			Status:          fund.StatusLocked,
		}
		return id, nil

	case fund.EventSubmitProof, fund.EventApproveProof, fund.EventReleaseFunds, fund.EventRefundFunder:
		fd, ok := f.funds[in.FundID]
		if !ok {
			return 0, &RejectedError{Code: CodeFundNotFound, Method: string(in.Event)}
		}
		if err := f.checkContractGuards(in, fd); err != nil {
			return 0, err
		}
		if !dryRun {
			f.funds[in.FundID] = fd.Apply(in.Event, in.ProofHash)
		}
		return in.FundID, nil
	}
	return 0, fmt.Errorf("unknown method %q", in.Event)
}

// checkContractGuards mirrors the on-contract guard order and error codes.
func (f *Fake) checkContractGuards(in Intent, fd fund.Fund) error {
	now := uint64(f.now().Unix())
	reject := func(code int) error {
		return &RejectedError{Code: code, Method: string(in.Event)}
	}

	switch in.Event {
	case fund.EventSubmitProof:
		if !strings.EqualFold(in.Caller, fd.Beneficiary) {
			return reject(CodeUnauthorized)
		}
		if fd.Status != fund.StatusLocked && fd.Status != fund.StatusPendingVerification {
			return reject(CodeInvalidState)
		}
		if now >= fd.Deadline {
			return reject(CodeFundExpired)
		}

	case fund.EventApproveProof:
		if !strings.EqualFold(in.Caller, fd.Verifier) {
			return reject(CodeUnauthorized)
		}
		if fd.Status != fund.StatusPendingVerification {
			return reject(CodeInvalidState)
		}
		if fd.ProofHash.IsZero() {
			return reject(CodeNoProofSubmitted)
		}

	case fund.EventReleaseFunds:
		if !strings.EqualFold(in.Caller, fd.Beneficiary) {
			return reject(CodeUnauthorized)
		}
		if fd.Status != fund.StatusApproved {
			return reject(CodeInvalidState)
		}

	case fund.EventRefundFunder:
		switch fd.Status {
		case fund.StatusReleased:
			return reject(CodeAlreadyReleased)
		case fund.StatusRejected:
			return reject(CodeAlreadyRefunded)
		case fund.StatusApproved:
			return reject(CodeAlreadyApproved)
		}
		if !strings.EqualFold(in.Caller, fd.Verifier) && now < fd.Deadline {
			return reject(CodeDeadlineNotExpired)
		}
	}
	return nil
}

var _ Ledger = (*Fake)(nil)
