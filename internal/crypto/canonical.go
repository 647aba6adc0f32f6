package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// BundleItem is one evidence record as it appears in a bundle. Timestamps
// and confidences are left out so that nodes fetching the same content at
// different instants produce the same bytes.
type BundleItem struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// EvidenceBundle is what a settlement proof commits to: the market, the
// chosen outcome and the evidence it was decided on.
type EvidenceBundle struct {
	MarketID uint64       `json:"market_id"`
	Question string       `json:"question"`
	Outcomes []string     `json:"outcomes"`
	Outcome  string       `json:"outcome"`
	Evidence []BundleItem `json:"evidence"`
}

// NewEvidenceBundle assembles the bundle for m settled to outcome on
// evidence. Evidence order is preserved.
func NewEvidenceBundle(m domain.Market, outcome string, evidence []domain.EvidenceRecord) EvidenceBundle {
	items := make([]BundleItem, 0, len(evidence))
	for _, e := range evidence {
		items = append(items, BundleItem{Source: e.SourceName, Content: e.Content})
	}
	outcomes := m.Outcomes
	if outcomes == nil {
		outcomes = []string{}
	}
	return EvidenceBundle{
		MarketID: m.ID,
		Question: m.Question,
		Outcomes: outcomes,
		Outcome:  outcome,
		Evidence: items,
	}
}

// Canonical returns the stable JSON encoding of b: fixed field order, no
// HTML escaping, no trailing newline.
func (b EvidenceBundle) Canonical() ([]byte, error) {
	return StableJSON(b)
}

// StableJSON encodes v without HTML escaping and trims the encoder's
// trailing newline.
func StableJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("crypto: canonical encode: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// Digest is keccak256 over canonical bundle bytes.
func Digest(canonical []byte) common.Hash {
	return ethcrypto.Keccak256Hash(canonical)
}

// BundleDigest encodes b canonically and returns both the bytes and their
// digest.
func BundleDigest(b EvidenceBundle) ([]byte, common.Hash, error) {
	raw, err := b.Canonical()
	if err != nil {
		return nil, common.Hash{}, err
	}
	return raw, Digest(raw), nil
}
