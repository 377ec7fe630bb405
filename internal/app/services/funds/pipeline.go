package funds

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/proofpay/settlement-coordinator/internal/app/metrics"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// Phase is the externally observable state of a pipeline run.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSimulating Phase = "simulating"
	PhaseSigning    Phase = "signing"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseSuccess    Phase = "success"
	PhaseError      Phase = "error"
)

// Signer is the external signing boundary. Implementations typically hand
// the payload to a wallet or a custodied key; the pipeline never signs
// anything itself. A refusal must be reported as ErrSigningDeclined so it is
// not conflated with transport errors.
type Signer interface {
	Sign(ctx context.Context, op *ledger.Operation) (*ledger.SignedOperation, error)
}

// PipelineConfig bounds every suspension point of a run.
type PipelineConfig struct {
	// SigningTimeout bounds the wait for the external signer.
	SigningTimeout time.Duration
	// SubmitRetryBackoff is the fixed pause before the single submit retry.
	SubmitRetryBackoff time.Duration
	// PollInterval is the fixed finality polling interval.
	PollInterval time.Duration
	// MaxPollAttempts bounds finality polling; each "still pending" poll
	// consumes one attempt.
	MaxPollAttempts int
}

// DefaultPipelineConfig mirrors the reference client: 2s polls, 10
// attempts.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		SigningTimeout:     2 * time.Minute,
		SubmitRetryBackoff: 2 * time.Second,
		PollInterval:       2 * time.Second,
		MaxPollAttempts:    10,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	def := DefaultPipelineConfig()
	if c.SigningTimeout <= 0 {
		c.SigningTimeout = def.SigningTimeout
	}
	if c.SubmitRetryBackoff <= 0 {
		c.SubmitRetryBackoff = def.SubmitRetryBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = def.MaxPollAttempts
	}
	return c
}

// Result is the outcome of a successful pipeline run.
type Result struct {
	RunID  string
	TxHash string
}

// Pipeline executes one signed operation per run through the fixed phase
// sequence simulate, sign, submit, poll. It is the only path permitted to
// mutate ledger-resident fund status. Phases never re-enter within a run;
// abandoning the caller context cannot un-submit a broadcast transaction.
type Pipeline struct {
	ledger  ledger.Ledger
	signer  Signer
	cfg     PipelineConfig
	log     *logger.Logger
	onPhase func(runID string, phase Phase)
}

// NewPipeline creates a pipeline over the ledger and signer boundaries.
func NewPipeline(lg ledger.Ledger, signer Signer, cfg PipelineConfig, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	return &Pipeline{
		ledger: lg,
		signer: signer,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// OnPhase registers an observer invoked at every phase change.
func (p *Pipeline) OnPhase(fn func(runID string, phase Phase)) {
	p.onPhase = fn
}

func (p *Pipeline) enterPhase(runID string, prev, next Phase) Phase {
	if prev != PhaseIdle {
		metrics.PipelinePhaseLeft(string(prev))
	}
	if next != PhaseSuccess && next != PhaseError {
		metrics.PipelinePhaseEntered(string(next))
	}
	if p.onPhase != nil {
		p.onPhase(runID, next)
	}
	return next
}

// Execute runs the operation to completion or failure. The returned error is
// always a *PipelineError wrapping one of the taxonomy errors.
func (p *Pipeline) Execute(ctx context.Context, op *ledger.Operation) (*Result, error) {
	runID := uuid.NewString()
	started := time.Now()
	phase := PhaseIdle
	log := p.log.WithField("run_id", runID).WithField("method", op.Method)

	fail := func(phase Phase, txHash string, err error) (*Result, error) {
		p.enterPhase(runID, phase, PhaseError)
		metrics.PipelineRunCompleted(op.Method, "error", started)
		log.WithError(err).WithField("phase", string(phase)).Warn("pipeline run failed")
		return nil, &PipelineError{Phase: phase, TxHash: txHash, Err: err}
	}

	// simulate
	phase = p.enterPhase(runID, phase, PhaseSimulating)
	if err := p.ledger.Simulate(ctx, op); err != nil {
		return fail(phase, "", err)
	}

	// sign
	phase = p.enterPhase(runID, phase, PhaseSigning)
	signed, err := p.sign(ctx, op)
	if err != nil {
		return fail(phase, "", err)
	}

	// submit
	phase = p.enterPhase(runID, phase, PhaseSubmitting)
	txHash, err := p.submit(ctx, signed)
	if err != nil {
		return fail(phase, "", err)
	}
	log = log.WithField("tx_hash", txHash)

	// poll
	phase = p.enterPhase(runID, phase, PhasePolling)
	if err := p.pollFinality(ctx, txHash); err != nil {
		return fail(phase, txHash, err)
	}

	p.enterPhase(runID, phase, PhaseSuccess)
	metrics.PipelineRunCompleted(op.Method, "success", started)
	log.Info("pipeline run confirmed")
	return &Result{RunID: runID, TxHash: txHash}, nil
}

// sign blocks on the external signer, bounded by the signing timeout. A
// timeout is surfaced as ErrSigningTimeout, never as a ledger error.
func (p *Pipeline) sign(ctx context.Context, op *ledger.Operation) (*ledger.SignedOperation, error) {
	signCtx, cancel := context.WithTimeout(ctx, p.cfg.SigningTimeout)
	defer cancel()

	signed, err := p.signer.Sign(signCtx, op)
	if err != nil {
		if errors.Is(err, ErrSigningDeclined) {
			return nil, ErrSigningDeclined
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrSigningTimeout
		}
		return nil, err
	}
	return signed, nil
}

// submit sends the signed payload once, retrying a transport failure exactly
// once after a fixed backoff. A rejection is surfaced immediately: a signed
// operation broadcast twice can double-apply on some ledgers.
func (p *Pipeline) submit(ctx context.Context, signed *ledger.SignedOperation) (string, error) {
	txHash, err := p.ledger.Submit(ctx, signed)
	if err == nil {
		return txHash, nil
	}

	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(p.cfg.SubmitRetryBackoff):
	}

	txHash, retryErr := p.ledger.Submit(ctx, signed)
	if retryErr == nil {
		return txHash, nil
	}
	if errors.As(retryErr, &rejected) {
		return "", retryErr
	}
	return "", errors.Join(ErrSubmissionFailed, retryErr)
}

// pollFinality polls at a fixed interval until the transaction resolves or
// the attempt budget is exhausted.
func (p *Pipeline) pollFinality(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	attempts := 0
	defer func() { metrics.ObservePollAttempts(attempts) }()

	for attempts < p.cfg.MaxPollAttempts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		attempts++
		status, err := p.ledger.TxStatus(ctx, txHash)
		if err != nil {
			p.log.WithError(err).WithField("tx_hash", txHash).Warn("finality poll failed")
			continue
		}

		switch status {
		case ledger.TxSuccess:
			return nil
		case ledger.TxFailed:
			return &ledger.RejectedError{Code: 0, Method: "execution"}
		case ledger.TxPending, ledger.TxNotFound:
			// Still pending; consumes the attempt.
		}
	}
	return ErrConfirmationTimeout
}
