package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
)

// The ledger stores fund status under its own vocabulary. All
// version-specific decoding happens here; downstream code only ever sees the
// canonical five-state enumeration.
const (
	ledgerStatusPending        = "Pending"
	ledgerStatusProofSubmitted = "ProofSubmitted"
	ledgerStatusApproved       = "Approved"
	ledgerStatusReleased       = "Released"
	ledgerStatusRefunded       = "Refunded"
)

// ledgerStatusOrder fixes the integer discriminants older clients emit.
var ledgerStatusOrder = []string{
	ledgerStatusPending,
	ledgerStatusProofSubmitted,
	ledgerStatusApproved,
	ledgerStatusReleased,
	ledgerStatusRefunded,
}

var statusByLedgerTag = map[string]fund.Status{
	ledgerStatusPending:        fund.StatusLocked,
	ledgerStatusProofSubmitted: fund.StatusPendingVerification,
	ledgerStatusApproved:       fund.StatusApproved,
	ledgerStatusReleased:       fund.StatusReleased,
	ledgerStatusRefunded:       fund.StatusRejected,
}

var ledgerTagByStatus = map[fund.Status]string{
	fund.StatusLocked:              ledgerStatusPending,
	fund.StatusPendingVerification: ledgerStatusProofSubmitted,
	fund.StatusApproved:            ledgerStatusApproved,
	fund.StatusReleased:            ledgerStatusReleased,
	fund.StatusRejected:            ledgerStatusRefunded,
}

// Intent is a caller-requested lifecycle event ready for encoding. Only the
// fields relevant to the event need to be set.
type Intent struct {
	Event  fund.Event
	Caller string
	FundID uint64

	// create_fund parameters
	Beneficiary     string
	Verifier        string
	Amount          *big.Int
	Deadline        uint64
	RequirementHash []byte

	// submit_proof parameter
	ProofHash []byte
}

// Operation is an encoded contract invocation, ready for simulation and
// signing.
type Operation struct {
	Method string  `json:"method"`
	Args   []ScVal `json:"args"`
}

// SignedOperation is an operation plus the signature produced by the
// external signer boundary.
type SignedOperation struct {
	Envelope  []byte `json:"envelope"`
	Signature []byte `json:"signature"`
	SignerKey string `json:"signer_key,omitempty"`
}

// NormalizeHash right zero-pads a short digest to the fixed 32-byte width.
// An empty digest normalizes to 32 zero bytes; anything wider than 32 bytes
// fails with ErrInvalidHashLength. The padding is lossy but defined, and
// must match existing ledger state.
func NormalizeHash(b []byte) ([]byte, error) {
	if len(b) > fund.HashSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidHashLength, len(b))
	}
	padded := make([]byte, fund.HashSize)
	copy(padded, b)
	return padded, nil
}

// EncodeIntent maps a domain intent to the versioned operation schema:
// addresses as 32-byte account ids, amount as i128 in the smallest unit,
// deadline as u64 seconds, hashes as fixed 32-byte arrays.
func EncodeIntent(in Intent) (*Operation, error) {
	switch in.Event {
	case fund.EventCreateFund:
		reqHash, err := NormalizeHash(in.RequirementHash)
		if err != nil {
			return nil, fmt.Errorf("requirement hash: %w", err)
		}
		return &Operation{
			Method: string(fund.EventCreateFund),
			Args: []ScVal{
				AddressVal(in.Caller),
				AddressVal(in.Beneficiary),
				AddressVal(in.Verifier),
				I128Val(in.Amount),
				U64Val(in.Deadline),
				BytesVal(reqHash),
			},
		}, nil

	case fund.EventSubmitProof:
		proofHash, err := NormalizeHash(in.ProofHash)
		if err != nil {
			return nil, fmt.Errorf("proof hash: %w", err)
		}
		return &Operation{
			Method: string(fund.EventSubmitProof),
			Args: []ScVal{
				AddressVal(in.Caller),
				U64Val(in.FundID),
				BytesVal(proofHash),
			},
		}, nil

	case fund.EventApproveProof, fund.EventReleaseFunds, fund.EventRefundFunder:
		return &Operation{
			Method: string(in.Event),
			Args: []ScVal{
				AddressVal(in.Caller),
				U64Val(in.FundID),
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown event %q", in.Event)
}

// DecodeOperation is the inverse of EncodeIntent. Fakes and audit tooling
// use it to recover the intent from a wire operation.
func DecodeOperation(op *Operation) (Intent, error) {
	if op == nil {
		return Intent{}, fmt.Errorf("nil operation")
	}
	in := Intent{Event: fund.Event(op.Method)}

	argAddr := func(i int) (string, error) { return ParseAddress(op.Args[i]) }

	switch in.Event {
	case fund.EventCreateFund:
		if len(op.Args) != 6 {
			return Intent{}, fmt.Errorf("%s: expected 6 args, got %d", op.Method, len(op.Args))
		}
		var err error
		if in.Caller, err = argAddr(0); err != nil {
			return Intent{}, err
		}
		if in.Beneficiary, err = argAddr(1); err != nil {
			return Intent{}, err
		}
		if in.Verifier, err = argAddr(2); err != nil {
			return Intent{}, err
		}
		if in.Amount, err = ParseI128(op.Args[3]); err != nil {
			return Intent{}, err
		}
		if in.Deadline, err = ParseU64(op.Args[4]); err != nil {
			return Intent{}, err
		}
		if in.RequirementHash, err = ParseBytes(op.Args[5]); err != nil {
			return Intent{}, err
		}

	case fund.EventSubmitProof:
		if len(op.Args) != 3 {
			return Intent{}, fmt.Errorf("%s: expected 3 args, got %d", op.Method, len(op.Args))
		}
		var err error
		if in.Caller, err = argAddr(0); err != nil {
			return Intent{}, err
		}
		if in.FundID, err = ParseU64(op.Args[1]); err != nil {
			return Intent{}, err
		}
		if in.ProofHash, err = ParseBytes(op.Args[2]); err != nil {
			return Intent{}, err
		}

	case fund.EventApproveProof, fund.EventReleaseFunds, fund.EventRefundFunder:
		if len(op.Args) != 2 {
			return Intent{}, fmt.Errorf("%s: expected 2 args, got %d", op.Method, len(op.Args))
		}
		var err error
		if in.Caller, err = argAddr(0); err != nil {
			return Intent{}, err
		}
		if in.FundID, err = ParseU64(op.Args[1]); err != nil {
			return Intent{}, err
		}

	default:
		return Intent{}, fmt.Errorf("unknown method %q", op.Method)
	}
	return in, nil
}

// =============================================================================
// Storage keys
// =============================================================================

// FundKey encodes the contract-storage key for a fund record. Enum keys are
// encoded as a vec with a leading symbol, even for unit variants.
func FundKey(id uint64) ScVal {
	return VecVal(SymbolVal("Fund"), U64Val(id))
}

// NextFundIDKey encodes the contract-storage key for the id high-water mark.
func NextFundIDKey() ScVal {
	return VecVal(SymbolVal("NextFundId"))
}

// =============================================================================
// Fund entry encode/decode
// =============================================================================

// fundEntry is the field layout of a stored fund record.
type fundEntry struct {
	Funder          ScVal `json:"funder"`
	Beneficiary     ScVal `json:"beneficiary"`
	Verifier        ScVal `json:"verifier"`
	Amount          ScVal `json:"amount"`
	Deadline        ScVal `json:"deadline"`
	RequirementHash ScVal `json:"requirement_hash"`
	ProofHash       ScVal `json:"proof_hash"`
	Status          ScVal `json:"status"`
}

// EncodeFundEntry renders a fund in the ledger's storage representation.
// Used by fakes and round-trip tests; the authoritative ledger writes
// entries itself.
func EncodeFundEntry(f fund.Fund) (json.RawMessage, error) {
	tag, ok := ledgerTagByStatus[f.Status]
	if !ok {
		return nil, fmt.Errorf("unknown status %q", f.Status)
	}
	reqHash, err := NormalizeHash(f.RequirementHash)
	if err != nil {
		return nil, fmt.Errorf("requirement hash: %w", err)
	}
	proofHash, err := NormalizeHash(f.ProofHash)
	if err != nil {
		return nil, fmt.Errorf("proof hash: %w", err)
	}
	entry := fundEntry{
		Funder:          AddressVal(f.Funder),
		Beneficiary:     AddressVal(f.Beneficiary),
		Verifier:        AddressVal(f.Verifier),
		Amount:          I128Val(f.Amount),
		Deadline:        U64Val(f.Deadline),
		RequirementHash: BytesVal(reqHash),
		ProofHash:       BytesVal(proofHash),
		Status:          VecVal(SymbolVal(tag)),
	}
	return json.Marshal(entry)
}

// DecodeFundEntry decodes a raw contract-storage entry into a Fund. Pure
// transform; any missing or unparseable field fails with ErrMalformedEntry.
func DecodeFundEntry(id uint64, raw json.RawMessage) (fund.Fund, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fund.Fund{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	val := func(name string) (ScVal, error) {
		rawField, ok := fields[name]
		if !ok {
			return ScVal{}, malformed(name, nil)
		}
		var v ScVal
		if err := json.Unmarshal(rawField, &v); err != nil {
			return ScVal{}, malformed(name, err)
		}
		return v, nil
	}

	f := fund.Fund{ID: id}

	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"funder", &f.Funder},
		{"beneficiary", &f.Beneficiary},
		{"verifier", &f.Verifier},
	} {
		v, err := val(field.name)
		if err != nil {
			return fund.Fund{}, err
		}
		addr, err := ParseAddress(v)
		if err != nil {
			return fund.Fund{}, malformed(field.name, err)
		}
		*field.dst = addr
	}

	amountVal, err := val("amount")
	if err != nil {
		return fund.Fund{}, err
	}
	if f.Amount, err = ParseI128(amountVal); err != nil {
		return fund.Fund{}, malformed("amount", err)
	}

	deadlineVal, err := val("deadline")
	if err != nil {
		return fund.Fund{}, err
	}
	if f.Deadline, err = ParseU64(deadlineVal); err != nil {
		return fund.Fund{}, malformed("deadline", err)
	}

	for _, field := range []struct {
		name string
		dst  *fund.HexBytes
	}{
		{"requirement_hash", &f.RequirementHash},
		{"proof_hash", &f.ProofHash},
	} {
		v, err := val(field.name)
		if err != nil {
			return fund.Fund{}, err
		}
		b, err := ParseBytes(v)
		if err != nil {
			return fund.Fund{}, malformed(field.name, err)
		}
		if len(b) != 0 && len(b) != fund.HashSize {
			return fund.Fund{}, malformed(field.name, fmt.Errorf("unexpected length %d", len(b)))
		}
		*field.dst = b
	}

	statusVal, err := val("status")
	if err != nil {
		return fund.Fund{}, err
	}
	if f.Status, err = decodeStatus(statusVal); err != nil {
		return fund.Fund{}, err
	}

	return f, nil
}

// decodeStatus normalizes the three status forms seen across ledger client
// versions: a bare symbol, an integer discriminant, or a single-element
// tagged vec. An unrecognized tag fails loudly; guessing a status could mask
// a newer state this decoder does not know about.
func decodeStatus(v ScVal) (fund.Status, error) {
	switch v.Type {
	case TypeSymbol:
		tag, err := ParseSymbol(v)
		if err != nil {
			return "", malformed("status", err)
		}
		return statusFromTag(tag)

	case TypeU32, TypeU64:
		n, err := ParseU64(v)
		if err != nil {
			return "", malformed("status", err)
		}
		if n >= uint64(len(ledgerStatusOrder)) {
			return "", malformed("status", fmt.Errorf("unknown discriminant %d", n))
		}
		return statusFromTag(ledgerStatusOrder[n])

	case TypeVec:
		items, err := ParseVec(v)
		if err != nil {
			return "", malformed("status", err)
		}
		if len(items) != 1 {
			return "", malformed("status", fmt.Errorf("expected single-element vec, got %d", len(items)))
		}
		return decodeStatus(items[0])
	}
	return "", malformed("status", fmt.Errorf("unexpected type %s", v.Type))
}

func statusFromTag(tag string) (fund.Status, error) {
	if status, ok := statusByLedgerTag[strings.TrimSpace(tag)]; ok {
		return status, nil
	}
	return "", malformed("status", fmt.Errorf("unknown tag %q", tag))
}
