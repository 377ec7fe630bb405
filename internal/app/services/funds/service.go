// Package funds implements the fund lifecycle and settlement coordinator:
// guard-checked intents executed against the ledger through the transaction
// pipeline, and the read-repair view that merges ledger state with local
// metadata.
package funds

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
	"github.com/proofpay/settlement-coordinator/internal/app/metrics"
	"github.com/proofpay/settlement-coordinator/internal/app/storage"
	"github.com/proofpay/settlement-coordinator/internal/ledger"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// Service coordinates fund lifecycle intents. All configuration is explicit;
// the service reads no ambient global state.
type Service struct {
	ledger   ledger.Ledger
	pipeline *Pipeline
	meta     storage.MetadataStore
	log      *logger.Logger
	now      func() time.Time

	createMu sync.Mutex
}

// Option customizes service construction.
type Option func(*Service)

// WithClock overrides the service clock, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the coordinator service.
func New(lg ledger.Ledger, signer Signer, meta storage.MetadataStore, cfg PipelineConfig, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("funds")
	}
	s := &Service{
		ledger:   lg,
		pipeline: NewPipeline(lg, signer, cfg, log.WithField("component", "pipeline")),
		meta:     meta,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pipeline exposes the underlying pipeline so callers can observe phase
// changes.
func (s *Service) Pipeline() *Pipeline { return s.pipeline }

// Receipt reports a confirmed lifecycle operation.
type Receipt struct {
	FundID uint64     `json:"fund_id"`
	TxHash string     `json:"tx_hash"`
	Fund   *fund.Fund `json:"fund,omitempty"`
	// Replayed is true when the event had already been applied and the
	// intent resolved as a no-op without touching the ledger.
	Replayed bool `json:"replayed,omitempty"`
}

// CreateParams carries a create_fund intent.
type CreateParams struct {
	Funder          string
	Beneficiary     string
	Verifier        string
	Amount          *big.Int
	Deadline        time.Time
	RequirementHash []byte

	// Off-ledger enrichment saved alongside the fund.
	Conditions  string
	DocumentRef string
}

// CreateFund locks value for a beneficiary. The fund id is assigned by the
// ledger; status starts at Locked.
func (s *Service) CreateFund(ctx context.Context, p CreateParams) (*Receipt, error) {
	deadline := uint64(p.Deadline.Unix())
	if err := fund.CheckCreate(p.Funder, p.Beneficiary, p.Verifier, p.Amount, deadline, s.now()); err != nil {
		return nil, err
	}

	op, err := ledger.EncodeIntent(ledger.Intent{
		Event:           fund.EventCreateFund,
		Caller:          p.Funder,
		Beneficiary:     p.Beneficiary,
		Verifier:        p.Verifier,
		Amount:          p.Amount,
		Deadline:        deadline,
		RequirementHash: p.RequirementHash,
	})
	if err != nil {
		return nil, err
	}

	// Creations serialize so the candidate id observed before submission is
	// the id the ledger assigns, keeping the metadata overlay keyed to the
	// right fund. This coordinator is the contract's only writer.
	s.createMu.Lock()
	defer s.createMu.Unlock()

	candidateID, err := s.ledger.NextFundID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read next fund id: %w", err)
	}

	result, err := s.pipeline.Execute(ctx, op)
	if err != nil {
		return nil, err
	}

	// Metadata must land before the composed view is read back, or the
	// receipt would carry placeholder text instead of the caller's.
	if p.Conditions != "" || p.DocumentRef != "" {
		meta := storage.Placeholder()
		meta.Conditions = p.Conditions
		meta.DocumentRef = p.DocumentRef
		if err := s.meta.SaveMetadata(ctx, candidateID, meta); err != nil {
			s.log.WithError(err).WithField("fund_id", candidateID).Warn("save fund metadata failed")
		}
	}

	receipt := &Receipt{FundID: candidateID, TxHash: result.TxHash}
	if created, lookupErr := s.GetFund(ctx, candidateID); lookupErr == nil {
		receipt.Fund = created
	}

	s.log.WithField("fund_id", candidateID).
		WithField("tx_hash", result.TxHash).
		Info("fund created")
	return receipt, nil
}

// SubmitProof records the beneficiary's proof of meeting the conditions.
func (s *Service) SubmitProof(ctx context.Context, caller string, fundID uint64, proofHash []byte, description string) (*Receipt, error) {
	return s.transition(ctx, fund.EventSubmitProof, caller, fundID, proofHash, func(id uint64) {
		if description == "" {
			return
		}
		meta, err := s.meta.GetMetadata(ctx, id)
		if err != nil {
			meta = storage.Placeholder()
		}
		meta.ProofDescription = description
		if err := s.meta.SaveMetadata(ctx, id, meta); err != nil {
			s.log.WithError(err).WithField("fund_id", id).Warn("save proof description failed")
		}
	})
}

// ApproveProof records the verifier's approval of a submitted proof.
func (s *Service) ApproveProof(ctx context.Context, caller string, fundID uint64) (*Receipt, error) {
	return s.transition(ctx, fund.EventApproveProof, caller, fundID, nil, nil)
}

// ReleaseFunds pays out an approved fund to the beneficiary.
func (s *Service) ReleaseFunds(ctx context.Context, caller string, fundID uint64) (*Receipt, error) {
	return s.transition(ctx, fund.EventReleaseFunds, caller, fundID, nil, nil)
}

// RefundFunder returns the locked value to the funder.
func (s *Service) RefundFunder(ctx context.Context, caller string, fundID uint64) (*Receipt, error) {
	return s.transition(ctx, fund.EventRefundFunder, caller, fundID, nil, nil)
}

// transition validates the guard table against current ledger state and,
// unless the event is a replay, dispatches the operation through the
// pipeline.
func (s *Service) transition(ctx context.Context, ev fund.Event, caller string, fundID uint64, proofHash []byte, afterSuccess func(id uint64)) (*Receipt, error) {
	current, err := s.fetchFund(ctx, fundID)
	if err != nil {
		return nil, err
	}

	replay, err := current.CheckTransition(ev, caller, proofHash, s.now())
	if err != nil {
		return nil, err
	}
	if replay {
		// Already applied with identical parameters: success without a
		// ledger operation.
		merged := s.enrich(ctx, *current)
		return &Receipt{FundID: fundID, Fund: &merged, Replayed: true}, nil
	}

	op, err := ledger.EncodeIntent(ledger.Intent{
		Event:     ev,
		Caller:    caller,
		FundID:    fundID,
		ProofHash: proofHash,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.pipeline.Execute(ctx, op)
	if err != nil {
		return nil, err
	}

	if afterSuccess != nil {
		afterSuccess(fundID)
	}

	receipt := &Receipt{FundID: fundID, TxHash: result.TxHash}
	if updated, lookupErr := s.GetFund(ctx, fundID); lookupErr == nil {
		receipt.Fund = updated
	}

	s.log.WithField("fund_id", fundID).
		WithField("event", string(ev)).
		WithField("tx_hash", result.TxHash).
		Info("fund transition confirmed")
	return receipt, nil
}

// fetchFund reads and decodes the authoritative record for a fund.
func (s *Service) fetchFund(ctx context.Context, fundID uint64) (*fund.Fund, error) {
	raw, err := s.ledger.FundEntry(ctx, fundID)
	if err != nil {
		return nil, err
	}
	decoded, err := ledger.DecodeFundEntry(fundID, raw)
	if err != nil {
		return nil, err
	}
	return &decoded, nil
}

// GetFund returns the composed view of one fund: authoritative ledger state
// enriched with local metadata.
func (s *Service) GetFund(ctx context.Context, fundID uint64) (*fund.Fund, error) {
	decoded, err := s.fetchFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	merged := s.enrich(ctx, *decoded)
	return &merged, nil
}

// Filter narrows fund listings to one role and address.
type Filter struct {
	Role    fund.Role
	Address string
}

func (f Filter) matches(fd fund.Fund) bool {
	if f.Address == "" {
		return true
	}
	switch f.Role {
	case fund.RoleFunder:
		return strings.EqualFold(f.Address, fd.Funder)
	case fund.RoleBeneficiary:
		return strings.EqualFold(f.Address, fd.Beneficiary)
	case fund.RoleVerifier:
		return strings.EqualFold(f.Address, fd.Verifier)
	}
	_, ok := fd.RoleOf(f.Address)
	return ok
}

// ListFunds enumerates ledger records by descending id from the high-water
// mark, newest first. Entries that cannot be decoded are excluded with a
// logged warning; one bad record never fails the listing.
func (s *Service) ListFunds(ctx context.Context, filter Filter) ([]fund.Fund, error) {
	nextID, err := s.ledger.NextFundID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read next fund id: %w", err)
	}

	out := make([]fund.Fund, 0, nextID)
	for id := int64(nextID) - 1; id >= 0; id-- {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, err := s.ledger.FundEntry(ctx, uint64(id))
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("fetch fund %d: %w", id, err)
		}

		decoded, err := ledger.DecodeFundEntry(uint64(id), raw)
		if err != nil {
			metrics.ReconcilerEntrySkipped()
			s.log.WithError(err).WithField("fund_id", id).Warn("skipping undecodable ledger entry")
			continue
		}

		if !filter.matches(decoded) {
			continue
		}
		out = append(out, s.enrich(ctx, decoded))
	}
	return out, nil
}

// enrich merges off-ledger metadata into a decoded fund, falling back to
// the placeholder record when nothing was saved locally.
func (s *Service) enrich(ctx context.Context, fd fund.Fund) fund.Fund {
	meta, err := s.meta.GetMetadata(ctx, fd.ID)
	if err != nil {
		if !errors.Is(err, storage.ErrMetadataNotFound) {
			s.log.WithError(err).WithField("fund_id", fd.ID).Warn("metadata lookup failed")
		}
		meta = storage.Placeholder()
	}
	fd.Conditions = meta.Conditions
	fd.ProofDescription = meta.ProofDescription
	fd.DocumentRef = meta.DocumentRef
	return fd
}
