package funds

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
)

const (
	funderAddr      = "GAFUNDER000000000000000000000000"
	beneficiaryAddr = "GBBENEFICIARY0000000000000000000"
	verifierAddr    = "GCVERIFIER0000000000000000000000"
	strangerAddr    = "GDSTRANGER0000000000000000000000"
)

func fastPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SigningTimeout:     time.Second,
		SubmitRetryBackoff: time.Millisecond,
		PollInterval:       time.Millisecond,
		MaxPollAttempts:    5,
	}
}

func testDigest(fill byte) []byte {
	b := make([]byte, fund.HashSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func createOp(t *testing.T) *ledger.Operation {
	t.Helper()
	op, err := ledger.EncodeIntent(ledger.Intent{
		Event:           fund.EventCreateFund,
		Caller:          funderAddr,
		Beneficiary:     beneficiaryAddr,
		Verifier:        verifierAddr,
		Amount:          big.NewInt(10_000_000),
		Deadline:        uint64(time.Now().Add(24 * time.Hour).Unix()),
		RequirementHash: testDigest(0xaa),
	})
	if err != nil {
		t.Fatalf("encode intent: %v", err)
	}
	return op
}

// phaseRecorder collects phase transitions across goroutines.
type phaseRecorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *phaseRecorder) record(_ string, phase Phase) {
	r.mu.Lock()
	r.phases = append(r.phases, phase)
	r.mu.Unlock()
}

func (r *phaseRecorder) seen() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}

func TestPipelinePhaseOrder(t *testing.T) {
	fake := ledger.NewFake()
	p := NewPipeline(fake, &StaticSigner{}, fastPipelineConfig(), nil)
	rec := &phaseRecorder{}
	p.OnPhase(rec.record)

	result, err := p.Execute(context.Background(), createOp(t))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.TxHash == "" {
		t.Fatal("expected transaction hash")
	}
	if result.RunID == "" {
		t.Fatal("expected run id")
	}

	want := []Phase{PhaseSimulating, PhaseSigning, PhaseSubmitting, PhasePolling, PhaseSuccess}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipelineSimulationRejected(t *testing.T) {
	fake := ledger.NewFake()
	fake.SimulateErr = &ledger.RejectedError{Code: ledger.CodeInvalidAmount, Method: "create_fund"}
	p := NewPipeline(fake, &StaticSigner{}, fastPipelineConfig(), nil)

	_, err := p.Execute(context.Background(), createOp(t))
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if perr.Phase != PhaseSimulating {
		t.Fatalf("expected simulating phase, got %s", perr.Phase)
	}
	var rejected *ledger.RejectedError
	if !errors.As(err, &rejected) || rejected.Code != ledger.CodeInvalidAmount {
		t.Fatalf("expected invalid-amount rejection, got %v", err)
	}
}

func TestPipelineSigningDeclined(t *testing.T) {
	fake := ledger.NewFake()
	p := NewPipeline(fake, &StaticSigner{Err: ErrSigningDeclined}, fastPipelineConfig(), nil)

	_, err := p.Execute(context.Background(), createOp(t))
	if !errors.Is(err, ErrSigningDeclined) {
		t.Fatalf("expected ErrSigningDeclined, got %v", err)
	}
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Phase != PhaseSigning {
		t.Fatalf("expected signing phase failure, got %v", err)
	}
	if _, ok := fake.FundState(0); ok {
		t.Fatal("declined run must not mutate the ledger")
	}
}

func TestPipelineSigningTimeout(t *testing.T) {
	fake := ledger.NewFake()
	cfg := fastPipelineConfig()
	cfg.SigningTimeout = 10 * time.Millisecond
	p := NewPipeline(fake, &StaticSigner{Delay: 500 * time.Millisecond}, cfg, nil)

	_, err := p.Execute(context.Background(), createOp(t))
	if !errors.Is(err, ErrSigningTimeout) {
		t.Fatalf("expected ErrSigningTimeout, got %v", err)
	}
}

func TestPipelineSubmitRetriesTransportErrorOnce(t *testing.T) {
	t.Run("single failure recovers", func(t *testing.T) {
		fake := ledger.NewFake()
		fake.SubmitTransportFailures = 1
		p := NewPipeline(fake, &StaticSigner{}, fastPipelineConfig(), nil)

		result, err := p.Execute(context.Background(), createOp(t))
		if err != nil {
			t.Fatalf("execute: %v", err)
		}
		if result.TxHash == "" {
			t.Fatal("expected transaction hash after retry")
		}
	})

	t.Run("second failure gives up", func(t *testing.T) {
		fake := ledger.NewFake()
		fake.SubmitTransportFailures = 2
		p := NewPipeline(fake, &StaticSigner{}, fastPipelineConfig(), nil)

		_, err := p.Execute(context.Background(), createOp(t))
		if !errors.Is(err, ErrSubmissionFailed) {
			t.Fatalf("expected ErrSubmissionFailed, got %v", err)
		}
		var perr *PipelineError
		if !errors.As(err, &perr) || perr.Phase != PhaseSubmitting {
			t.Fatalf("expected submitting phase failure, got %v", err)
		}
	})

	t.Run("ledger rejection surfaces immediately", func(t *testing.T) {
		fake := ledger.NewFake()
		p := NewPipeline(fake, &StaticSigner{}, fastPipelineConfig(), nil)

		op, err := ledger.EncodeIntent(ledger.Intent{
			Event:  fund.EventRefundFunder,
			Caller: funderAddr,
			FundID: 99,
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		_, err = p.Execute(context.Background(), op)
		var rejected *ledger.RejectedError
		if !errors.As(err, &rejected) || rejected.Code != ledger.CodeFundNotFound {
			t.Fatalf("expected fund-not-found rejection, got %v", err)
		}
	})
}

func TestPipelineConfirmationTimeout(t *testing.T) {
	fake := ledger.NewFake()
	fake.FinalizeAfterPolls = 50
	cfg := fastPipelineConfig()
	cfg.MaxPollAttempts = 3
	p := NewPipeline(fake, &StaticSigner{}, cfg, nil)

	_, err := p.Execute(context.Background(), createOp(t))
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected ErrConfirmationTimeout, got %v", err)
	}

	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if perr.Phase != PhasePolling {
		t.Fatalf("expected polling phase, got %s", perr.Phase)
	}
	if perr.TxHash == "" {
		t.Fatal("confirmation timeout must carry the transaction hash")
	}

	// The operation was accepted by the ledger even though the local wait
	// gave up: state reflects the broadcast.
	if _, ok := fake.FundState(0); !ok {
		t.Fatal("expected fund to exist despite confirmation timeout")
	}
}

func TestPipelineContextCancelled(t *testing.T) {
	fake := ledger.NewFake()
	fake.FinalizeAfterPolls = 50
	cfg := fastPipelineConfig()
	cfg.PollInterval = 50 * time.Millisecond
	cfg.MaxPollAttempts = 100
	p := NewPipeline(fake, &StaticSigner{}, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, createOp(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}
}
