package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
)

const (
	testFunder      = "GAFUNDER000000000000000000000000"
	testBeneficiary = "GBBENEFICIARY0000000000000000000"
	testVerifier    = "GCVERIFIER0000000000000000000000"
)

func digest(fill byte) []byte {
	b := make([]byte, fund.HashSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func canonicalFund() fund.Fund {
	return fund.Fund{
		ID:              7,
		Funder:          testFunder,
		Beneficiary:     testBeneficiary,
		Verifier:        testVerifier,
		Amount:          big.NewInt(123_456_789),
		Deadline:        1_900_000_000,
		RequirementHash: digest(0xaa),
		ProofHash:       digest(0xbb),
		Status:          fund.StatusPendingVerification,
	}
}

func TestIntentRoundTrip(t *testing.T) {
	intents := []Intent{
		{
			Event:           fund.EventCreateFund,
			Caller:          testFunder,
			Beneficiary:     testBeneficiary,
			Verifier:        testVerifier,
			Amount:          big.NewInt(1),
			Deadline:        1_900_000_000,
			RequirementHash: digest(0x01),
		},
		{
			Event:     fund.EventSubmitProof,
			Caller:    testBeneficiary,
			FundID:    42,
			ProofHash: digest(0xff),
		},
		{Event: fund.EventApproveProof, Caller: testVerifier, FundID: 42},
		{Event: fund.EventReleaseFunds, Caller: testBeneficiary, FundID: 42},
		{Event: fund.EventRefundFunder, Caller: testFunder, FundID: 42},
	}

	for _, in := range intents {
		t.Run(string(in.Event), func(t *testing.T) {
			op, err := EncodeIntent(in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeOperation(op)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, in) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
			}
		})
	}
}

func TestEncodeIntentNormalizesShortHash(t *testing.T) {
	op, err := EncodeIntent(Intent{
		Event:     fund.EventSubmitProof,
		Caller:    testBeneficiary,
		FundID:    1,
		ProofHash: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	in, err := DecodeOperation(op)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := make([]byte, fund.HashSize)
	want[0], want[1] = 0x01, 0x02
	if !bytes.Equal(in.ProofHash, want) {
		t.Fatalf("expected right zero-padded hash, got %x", in.ProofHash)
	}
}

func TestEncodeIntentRejectsOverwidthHash(t *testing.T) {
	_, err := EncodeIntent(Intent{
		Event:     fund.EventSubmitProof,
		Caller:    testBeneficiary,
		FundID:    1,
		ProofHash: make([]byte, fund.HashSize+1),
	})
	if !errors.Is(err, ErrInvalidHashLength) {
		t.Fatalf("expected ErrInvalidHashLength, got %v", err)
	}
}

func TestFundEntryRoundTrip(t *testing.T) {
	want := canonicalFund()

	raw, err := EncodeFundEntry(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFundEntry(want.ID, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeFundEntryStatusForms(t *testing.T) {
	base := canonicalFund()
	raw, err := EncodeFundEntry(base)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	setStatus := func(t *testing.T, status ScVal) json.RawMessage {
		t.Helper()
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("unmarshal entry: %v", err)
		}
		encoded, err := json.Marshal(status)
		if err != nil {
			t.Fatalf("marshal status: %v", err)
		}
		fields["status"] = encoded
		out, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("marshal entry: %v", err)
		}
		return out
	}

	t.Run("bare symbol", func(t *testing.T) {
		got, err := DecodeFundEntry(base.ID, setStatus(t, SymbolVal("Approved")))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != fund.StatusApproved {
			t.Fatalf("expected Approved, got %s", got.Status)
		}
	})

	t.Run("integer discriminant", func(t *testing.T) {
		got, err := DecodeFundEntry(base.ID, setStatus(t, U32Val(4)))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != fund.StatusRejected {
			t.Fatalf("expected Rejected for discriminant 4, got %s", got.Status)
		}
	})

	t.Run("single-element tagged vec", func(t *testing.T) {
		got, err := DecodeFundEntry(base.ID, setStatus(t, VecVal(SymbolVal("Pending"))))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != fund.StatusLocked {
			t.Fatalf("expected Locked for Pending tag, got %s", got.Status)
		}
	})

	t.Run("unknown tag fails", func(t *testing.T) {
		_, err := DecodeFundEntry(base.ID, setStatus(t, SymbolVal("Disputed")))
		if !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}
	})

	t.Run("out-of-range discriminant fails", func(t *testing.T) {
		_, err := DecodeFundEntry(base.ID, setStatus(t, U32Val(9)))
		if !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}
	})

	t.Run("multi-element vec fails", func(t *testing.T) {
		_, err := DecodeFundEntry(base.ID, setStatus(t, VecVal(SymbolVal("Pending"), U32Val(1))))
		if !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}
	})
}

func TestDecodeFundEntryMalformed(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		_, err := DecodeFundEntry(1, json.RawMessage(`"garbage`))
		if !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		base := canonicalFund()
		raw, err := EncodeFundEntry(base)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		delete(fields, "amount")
		mutated, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		_, err = DecodeFundEntry(base.ID, mutated)
		if !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}
	})

	t.Run("wrong hash width", func(t *testing.T) {
		base := canonicalFund()
		base.ProofHash = digest(0xcc)[:16]
		raw, err := EncodeFundEntry(base)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		short, err := json.Marshal(BytesVal([]byte{0x01, 0x02, 0x03}))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		fields["proof_hash"] = short
		mutated, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		_, err = DecodeFundEntry(base.ID, mutated)
		if !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected ErrMalformedEntry, got %v", err)
		}
	})
}

func TestStorageKeys(t *testing.T) {
	key := FundKey(12)
	items, err := ParseVec(key)
	if err != nil {
		t.Fatalf("parse fund key: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2-element key, got %d", len(items))
	}
	sym, err := ParseSymbol(items[0])
	if err != nil || sym != "Fund" {
		t.Fatalf("expected Fund symbol, got %q (%v)", sym, err)
	}
	id, err := ParseU64(items[1])
	if err != nil || id != 12 {
		t.Fatalf("expected id 12, got %d (%v)", id, err)
	}

	next := NextFundIDKey()
	items, err = ParseVec(next)
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1-element key, got %d (%v)", len(items), err)
	}
	sym, err = ParseSymbol(items[0])
	if err != nil || sym != "NextFundId" {
		t.Fatalf("expected NextFundId symbol, got %q (%v)", sym, err)
	}
}
