package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Attestor signs settlement attestations with the node's wallet key.
type Attestor struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewAttestor wraps key.
func NewAttestor(key *ecdsa.PrivateKey) (*Attestor, error) {
	if key == nil {
		return nil, errors.New("crypto/attestor: key is required")
	}
	return &Attestor{privateKey: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signing address.
func (a *Attestor) Address() common.Address {
	return a.address
}

// AttestationHash is the personal-sign hash of
//
//	keccak256(uint256(marketID) || keccak256(outcome) || digest)
//
// which is what Sign signs and a contract would ecrecover against.
func AttestationHash(marketID uint64, outcome string, digest common.Hash) []byte {
	inner := ethcrypto.Keccak256(
		common.LeftPadBytes(new(big.Int).SetUint64(marketID).Bytes(), 32),
		ethcrypto.Keccak256([]byte(outcome)),
		digest.Bytes(),
	)
	return accounts.TextHash(inner)
}

// Sign returns the 65-byte r || s || v signature over the attestation, with
// v in {27, 28}.
func (a *Attestor) Sign(marketID uint64, outcome string, digest common.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(AttestationHash(marketID, outcome, digest), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/attestor: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverAttestor returns the address that produced sig for the attestation.
func RecoverAttestor(marketID uint64, outcome string, digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/attestor: signature length %d", len(sig))
	}
	s := make([]byte, 65)
	copy(s, sig)
	if s[64] >= 27 {
		s[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(AttestationHash(marketID, outcome, digest), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/attestor: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
