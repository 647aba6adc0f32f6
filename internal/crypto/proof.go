package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Proof modes.
const (
	ProofEmpty  = "empty"
	ProofDigest = "digest"
	ProofSigned = "signed"
)

// ProofBuilder produces the proof bytes passed to receiveSettlement.
//
//	empty:  zero-length
//	digest: the 32-byte evidence digest
//	signed: digest followed by the 65-byte attestation signature
type ProofBuilder struct {
	mode     string
	attestor *Attestor
}

// NewProofBuilder validates mode. attestor is only required for signed
// proofs.
func NewProofBuilder(mode string, attestor *Attestor) (*ProofBuilder, error) {
	switch mode {
	case "", ProofEmpty:
		mode = ProofEmpty
	case ProofDigest:
	case ProofSigned:
		if attestor == nil {
			return nil, errors.New("crypto/proof: signed mode requires an attestor")
		}
	default:
		return nil, fmt.Errorf("crypto/proof: unknown mode %q", mode)
	}
	return &ProofBuilder{mode: mode, attestor: attestor}, nil
}

// Mode returns the normalised proof mode.
func (p *ProofBuilder) Mode() string {
	return p.mode
}

// Build returns the proof for a settlement of marketID to outcome.
func (p *ProofBuilder) Build(marketID uint64, outcome string, digest common.Hash) ([]byte, error) {
	switch p.mode {
	case ProofDigest:
		return digest.Bytes(), nil
	case ProofSigned:
		sig, err := p.attestor.Sign(marketID, outcome, digest)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, common.HashLength+len(sig))
		out = append(out, digest.Bytes()...)
		return append(out, sig...), nil
	default:
		return []byte{}, nil
	}
}
