package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
)

// rpcStub serves canned JSON-RPC responses keyed by method.
type rpcStub struct {
	t         *testing.T
	responses map[string]string
	calls     []string
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("decode rpc request: %v", err)
		return
	}
	s.calls = append(s.calls, req.Method)

	resp, ok := s.responses[req.Method]
	if !ok {
		resp = `{"error": {"code": -32601, "message": "method not found"}}`
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resp))
}

func newStubClient(t *testing.T, responses map[string]string) (*Client, *rpcStub) {
	t.Helper()
	stub := &rpcStub{t: t, responses: responses}
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{RPCURL: server.URL, ContractID: "CCONTRACT"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, stub
}

func TestClientFundEntry(t *testing.T) {
	entry, err := EncodeFundEntry(fund.Fund{
		ID:          3,
		Funder:      testFunder,
		Beneficiary: testBeneficiary,
		Verifier:    testVerifier,
		Amount:      mustAmount(t, "4.00"),
		Deadline:    1_900_000_000,
		Status:      fund.StatusLocked,
	})
	if err != nil {
		t.Fatalf("encode entry: %v", err)
	}

	client, _ := newStubClient(t, map[string]string{
		"getContractData": `{"result": {"entry": ` + string(entry) + `}}`,
	})

	raw, err := client.FundEntry(context.Background(), 3)
	if err != nil {
		t.Fatalf("fund entry: %v", err)
	}
	decoded, err := DecodeFundEntry(3, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Status != fund.StatusLocked {
		t.Fatalf("expected Locked, got %s", decoded.Status)
	}
}

func TestClientFundEntryNotFound(t *testing.T) {
	client, _ := newStubClient(t, map[string]string{
		"getContractData": `{"error": {"code": -32000, "message": "entry not found"}}`,
	})
	_, err := client.FundEntry(context.Background(), 9)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientNextFundIDMissingMeansZero(t *testing.T) {
	client, _ := newStubClient(t, map[string]string{
		"getContractData": `{"error": {"code": -32000, "message": "entry not found"}}`,
	})
	id, err := client.NextFundID(context.Background())
	if err != nil {
		t.Fatalf("next fund id: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0 for missing high-water mark, got %d", id)
	}
}

func TestClientSimulateRejection(t *testing.T) {
	client, _ := newStubClient(t, map[string]string{
		"simulateTransaction": `{"result": {"error": "contract error", "errorCode": 7}}`,
	})

	op := &Operation{Method: "approve_proof"}
	err := client.Simulate(context.Background(), op)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if rejected.Code != CodeInvalidState || rejected.Method != "approve_proof" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
}

func TestClientSubmit(t *testing.T) {
	t.Run("pending accepted", func(t *testing.T) {
		client, _ := newStubClient(t, map[string]string{
			"sendTransaction": `{"result": {"status": "PENDING", "hash": "abc123"}}`,
		})
		hash, err := client.Submit(context.Background(), &SignedOperation{Envelope: []byte(`{"method":"release_funds"}`)})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if hash != "abc123" {
			t.Fatalf("expected hash abc123, got %q", hash)
		}
	})

	t.Run("error status rejected", func(t *testing.T) {
		client, _ := newStubClient(t, map[string]string{
			"sendTransaction": `{"result": {"status": "ERROR", "errorCode": 2}}`,
		})
		_, err := client.Submit(context.Background(), &SignedOperation{Envelope: []byte(`{"method":"release_funds"}`)})
		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("expected RejectedError, got %v", err)
		}
		if rejected.Code != CodeUnauthorized || rejected.Method != "release_funds" {
			t.Fatalf("unexpected rejection: %+v", rejected)
		}
	})
}

func TestClientTxStatus(t *testing.T) {
	tests := []struct {
		response string
		want     TxStatus
	}{
		{`{"result": {"status": "PENDING"}}`, TxPending},
		{`{"result": {"status": "SUCCESS"}}`, TxSuccess},
		{`{"result": {"status": "FAILED"}}`, TxFailed},
		{`{"error": {"code": -32000, "message": "transaction not found"}}`, TxNotFound},
	}

	for _, tc := range tests {
		t.Run(string(tc.want), func(t *testing.T) {
			client, _ := newStubClient(t, map[string]string{"getTransaction": tc.response})
			status, err := client.TxStatus(context.Background(), "deadbeef")
			if err != nil {
				t.Fatalf("tx status: %v", err)
			}
			if status != tc.want {
				t.Fatalf("status = %s, want %s", status, tc.want)
			}
		})
	}
}

func mustAmount(t *testing.T, display string) *big.Int {
	t.Helper()
	amount, err := ParseAmount(display)
	if err != nil {
		t.Fatalf("parse amount %q: %v", display, err)
	}
	return amount
}
