package funds

import (
	"context"
	"encoding/json"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/ledger"
)

// StaticSigner is a test signer that wraps the operation into an envelope
// without any key material. Failure modes are injectable.
type StaticSigner struct {
	// Err, when set, is returned from every Sign call.
	Err error
	// Delay is slept (context permitting) before signing.
	Delay time.Duration
	// Key is reported as the signer identity.
	Key string
}

// Sign implements Signer.
func (s *StaticSigner) Sign(ctx context.Context, op *ledger.Operation) (*ledger.SignedOperation, error) {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}

	envelope, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	key := s.Key
	if key == "" {
		key = "static-test-key"
	}
	return &ledger.SignedOperation{
		Envelope:  envelope,
		Signature: []byte("static-signature"),
		SignerKey: key,
	}, nil
}
