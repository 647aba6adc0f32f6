package domain

import (
	"fmt"
	"math"
	"strings"
)

// FallbackTag prefixes the reasoning of every fallback decision so it can be
// told apart from an evidence-based one downstream.
const FallbackTag = "[FALLBACK]"

// Decision methods.
const (
	MethodModel     = "model"
	MethodPriceRule = "price_rule"
	MethodFallback  = "fallback"
)

// Decision is the engine's selection for one market.
type Decision struct {
	MarketID     uint64  `json:"market_id"`
	Outcome      string  `json:"outcome"`
	OutcomeIndex int     `json:"outcome_index"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Fallback     bool    `json:"fallback"`
	Method       string  `json:"method"`
}

// IsFallback reports whether d was produced by the fallback policy, either by
// flag or by reasoning tag.
func (d Decision) IsFallback() bool {
	return d.Fallback || strings.HasPrefix(d.Reasoning, FallbackTag)
}

// Validate checks that d refers to m and selects an exact member of its
// outcome list at the recorded index.
func (d Decision) Validate(m Market) error {
	if d.MarketID != m.ID {
		return fmt.Errorf("%w: decision for market %d applied to market %d", ErrInvalidDecision, d.MarketID, m.ID)
	}
	idx := m.OutcomeIndex(d.Outcome)
	if idx < 0 {
		return fmt.Errorf("%w: outcome %q not in %q", ErrInvalidDecision, d.Outcome, m.Outcomes)
	}
	if d.OutcomeIndex != idx {
		return fmt.Errorf("%w: outcome %q has index %d, decision says %d", ErrInvalidDecision, d.Outcome, idx, d.OutcomeIndex)
	}
	return nil
}

// NormalizeConfidence clamps c into [0,1] and rounds to two decimals. NaN
// becomes 0.
func NormalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*100) / 100
}
