// Package fund defines the conditional-disbursement fund record and the
// status transition rules every ledger operation must satisfy before it is
// dispatched. Status is owned by the ledger; this package only decides
// whether an intent is legal for the caller and the fund's current state.
package fund

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// HashSize is the fixed width of requirement and proof digests.
const HashSize = 32

// Status is the canonical five-state fund status vocabulary.
type Status string

const (
	StatusLocked              Status = "Locked"
	StatusPendingVerification Status = "PendingVerification"
	StatusApproved            Status = "Approved"
	StatusReleased            Status = "Released"
	StatusRejected            Status = "Rejected"
)

// Terminal reports whether the status accepts no further events.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRejected
}

// Valid reports whether s is one of the five canonical states.
func (s Status) Valid() bool {
	switch s {
	case StatusLocked, StatusPendingVerification, StatusApproved, StatusReleased, StatusRejected:
		return true
	}
	return false
}

// Event is a caller-requested lifecycle transition.
type Event string

const (
	EventCreateFund   Event = "create_fund"
	EventSubmitProof  Event = "submit_proof"
	EventApproveProof Event = "approve_proof"
	EventReleaseFunds Event = "release_funds"
	EventRefundFunder Event = "refund_funder"
)

// Role identifies which party an address plays on a fund.
type Role string

const (
	RoleFunder      Role = "funder"
	RoleBeneficiary Role = "beneficiary"
	RoleVerifier    Role = "verifier"
)

// HexBytes is a byte slice that marshals as a lowercase hex string.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// IsZero reports whether the digest is absent or all zero bytes.
func (h HexBytes) IsZero() bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// Fund is one conditional-disbursement record. The tuple (funder,
// beneficiary, verifier, amount, deadline, requirement hash) is immutable
// after creation; only Status and ProofHash ever change, and only through
// ledger operations.
type Fund struct {
	ID              uint64   `json:"id"`
	Funder          string   `json:"funder"`
	Beneficiary     string   `json:"beneficiary"`
	Verifier        string   `json:"verifier"`
	Amount          *big.Int `json:"amount"`   // smallest currency unit
	Deadline        uint64   `json:"deadline"` // seconds since epoch
	RequirementHash HexBytes `json:"requirement_hash"`
	ProofHash       HexBytes `json:"proof_hash"`
	Status          Status   `json:"status"`

	// Off-ledger enrichment merged in by the reconciler. Never influences
	// status.
	Conditions       string `json:"conditions,omitempty"`
	ProofDescription string `json:"proof_description,omitempty"`
	DocumentRef      string `json:"document_ref,omitempty"`
}

// DeadlineTime returns the deadline as a time.Time in UTC.
func (f Fund) DeadlineTime() time.Time {
	return time.Unix(int64(f.Deadline), 0).UTC()
}

// RoleOf returns the role the address plays on this fund, if any.
// Address comparison is case-insensitive.
func (f Fund) RoleOf(address string) (Role, bool) {
	switch {
	case strings.EqualFold(address, f.Funder):
		return RoleFunder, true
	case strings.EqualFold(address, f.Beneficiary):
		return RoleBeneficiary, true
	case strings.EqualFold(address, f.Verifier):
		return RoleVerifier, true
	}
	return "", false
}

// GuardViolation is an intent rejected locally, before reaching the ledger.
// Guard names the precondition that failed so callers can report precisely
// what went wrong.
type GuardViolation struct {
	Event  Event
	Guard  string
	Detail string
}

func (e *GuardViolation) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s rejected: %s", e.Event, e.Guard)
	}
	return fmt.Sprintf("%s rejected: %s (%s)", e.Event, e.Guard, e.Detail)
}

// IllegalTransition is returned when an event arrives while the fund is not
// in a state that accepts it.
type IllegalTransition struct {
	Event Event
	From  Status
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: %s not accepted in state %s", e.Event, e.From)
}

// targetStatus maps each event to the status it produces.
func targetStatus(ev Event) (Status, bool) {
	switch ev {
	case EventSubmitProof:
		return StatusPendingVerification, true
	case EventApproveProof:
		return StatusApproved, true
	case EventReleaseFunds:
		return StatusReleased, true
	case EventRefundFunder:
		return StatusRejected, true
	}
	return "", false
}

// CheckCreate validates the creation guards: positive amount, strictly
// future deadline, and pairwise-distinct parties.
func CheckCreate(funder, beneficiary, verifier string, amount *big.Int, deadline uint64, now time.Time) error {
	if funder == "" || beneficiary == "" || verifier == "" {
		return &GuardViolation{Event: EventCreateFund, Guard: "all parties required"}
	}
	if strings.EqualFold(funder, beneficiary) || strings.EqualFold(funder, verifier) || strings.EqualFold(beneficiary, verifier) {
		return &GuardViolation{Event: EventCreateFund, Guard: "parties must be distinct"}
	}
	if amount == nil || amount.Sign() <= 0 {
		return &GuardViolation{Event: EventCreateFund, Guard: "amount must be positive"}
	}
	if deadline <= uint64(now.Unix()) {
		return &GuardViolation{Event: EventCreateFund, Guard: "deadline must be in the future"}
	}
	return nil
}

// CheckTransition validates ev issued by caller at now against the fund's
// current state. It returns replay=true when the event was already applied
// with identical parameters, which callers must treat as success without
// dispatching a ledger operation. proofHash is only consulted for
// submit_proof.
func (f Fund) CheckTransition(ev Event, caller string, proofHash []byte, now time.Time) (replay bool, err error) {
	target, ok := targetStatus(ev)
	if !ok {
		return false, &IllegalTransition{Event: ev, From: f.Status}
	}

	// Replay detection: re-delivery of an applied event is a no-op only
	// when the resulting state already matches the target with identical
	// parameters. The caller is a parameter; a no-op receipt is still only
	// handed to a caller the event's guard would authorize.
	if f.Status == target {
		if err := f.checkReplayCaller(ev, caller); err != nil {
			return false, err
		}
		if ev == EventSubmitProof && !equalHashes(f.ProofHash, proofHash) {
			return false, &GuardViolation{Event: ev, Guard: "proof hash already set", Detail: "proof hash is immutable once submitted"}
		}
		return true, nil
	}

	switch ev {
	case EventSubmitProof:
		if f.Status != StatusLocked {
			return false, &IllegalTransition{Event: ev, From: f.Status}
		}
		if !strings.EqualFold(caller, f.Beneficiary) {
			return false, &GuardViolation{Event: ev, Guard: "caller must be the beneficiary"}
		}
		if uint64(now.Unix()) >= f.Deadline {
			return false, &GuardViolation{Event: ev, Guard: "deadline has passed"}
		}
		if !f.ProofHash.IsZero() {
			return false, &GuardViolation{Event: ev, Guard: "proof hash already set"}
		}
		if HexBytes(proofHash).IsZero() {
			return false, &GuardViolation{Event: ev, Guard: "proof hash required"}
		}

	case EventApproveProof:
		if f.Status != StatusPendingVerification {
			return false, &IllegalTransition{Event: ev, From: f.Status}
		}
		if !strings.EqualFold(caller, f.Verifier) {
			return false, &GuardViolation{Event: ev, Guard: "caller must be the verifier"}
		}
		if f.ProofHash.IsZero() {
			return false, &GuardViolation{Event: ev, Guard: "no proof submitted"}
		}

	case EventReleaseFunds:
		if f.Status != StatusApproved {
			return false, &IllegalTransition{Event: ev, From: f.Status}
		}
		if !strings.EqualFold(caller, f.Beneficiary) {
			return false, &GuardViolation{Event: ev, Guard: "caller must be the beneficiary"}
		}

	case EventRefundFunder:
		switch f.Status {
		case StatusLocked:
			if uint64(now.Unix()) < f.Deadline {
				return false, &GuardViolation{Event: ev, Guard: "deadline has not expired"}
			}
		case StatusPendingVerification:
			if !strings.EqualFold(caller, f.Verifier) && uint64(now.Unix()) < f.Deadline {
				return false, &GuardViolation{Event: ev, Guard: "caller must be the verifier or the deadline must have expired"}
			}
		default:
			return false, &IllegalTransition{Event: ev, From: f.Status}
		}
	}

	return false, nil
}

// checkReplayCaller enforces the caller-role guard on replayed events.
func (f Fund) checkReplayCaller(ev Event, caller string) error {
	switch ev {
	case EventSubmitProof, EventReleaseFunds:
		if !strings.EqualFold(caller, f.Beneficiary) {
			return &GuardViolation{Event: ev, Guard: "caller must be the beneficiary"}
		}
	case EventApproveProof:
		if !strings.EqualFold(caller, f.Verifier) {
			return &GuardViolation{Event: ev, Guard: "caller must be the verifier"}
		}
	case EventRefundFunder:
		if !strings.EqualFold(caller, f.Funder) && !strings.EqualFold(caller, f.Verifier) {
			return &GuardViolation{Event: ev, Guard: "caller must be the funder or the verifier"}
		}
	}
	return nil
}

// Apply returns a copy of the fund with ev applied. It assumes
// CheckTransition has accepted the event; it exists so fakes and tests can
// mirror the ledger's mutation exactly.
func (f Fund) Apply(ev Event, proofHash []byte) Fund {
	target, ok := targetStatus(ev)
	if !ok {
		return f
	}
	next := f
	next.Status = target
	if ev == EventSubmitProof {
		next.ProofHash = append(HexBytes(nil), proofHash...)
	}
	return next
}

// equalHashes compares digests after right zero-padding both to the fixed
// width, mirroring the codec's normalization of short hashes.
func equalHashes(a, b []byte) bool {
	var pa, pb [HashSize]byte
	if len(a) > HashSize || len(b) > HashSize {
		return false
	}
	copy(pa[:], a)
	copy(pb[:], b)
	return pa == pb
}
