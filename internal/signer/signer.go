// Package signer provides a local key signer for deployments where the
// coordinator custodies its own signing key. Interactive wallet signing
// plugs in behind the same interface.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/proofpay/settlement-coordinator/internal/ledger"
)

// Local signs operations with an in-process ed25519 key.
type Local struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewLocal derives a signer from a hex-encoded 32-byte seed.
func NewLocal(seedHex string) (*Local, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signer seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Local{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// NewEphemeral generates a throwaway key, for development and tests.
func NewEphemeral() (*Local, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signer key: %w", err)
	}
	return &Local{priv: priv, pub: pub}, nil
}

// PublicKey returns the hex-encoded public key.
func (l *Local) PublicKey() string {
	return hex.EncodeToString(l.pub)
}

// Sign serializes the operation into an envelope and signs it.
func (l *Local) Sign(ctx context.Context, op *ledger.Operation) (*ledger.SignedOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	envelope, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return &ledger.SignedOperation{
		Envelope:  envelope,
		Signature: ed25519.Sign(l.priv, envelope),
		SignerKey: l.PublicKey(),
	}, nil
}
