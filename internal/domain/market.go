package domain

import (
	"math/big"
	"time"
)

// Market is a typed snapshot of one ledger market, decoded once at the chain
// boundary. Outcomes is empty until the reader fetches the outcome list.
type Market struct {
	ID              uint64
	Question        string
	BettingDeadline time.Time
	RevealDeadline  time.Time
	Revealed        bool
	FinalOutcomeID  uint64
	Settled         bool
	TotalPool       *big.Int
	Outcomes        []string
}

// Eligible reports whether the market is ready for settlement at now: not yet
// settled and strictly past its reveal deadline.
func (m Market) Eligible(now time.Time) bool {
	return !m.Settled && now.After(m.RevealDeadline)
}

// OutcomeIndex returns the index of outcome in the market's outcome list using
// exact string comparison, or -1 when it is not a member.
func (m Market) OutcomeIndex(outcome string) int {
	for i, o := range m.Outcomes {
		if o == outcome {
			return i
		}
	}
	return -1
}

// HasOutcome reports whether outcome is an exact member of the outcome list.
func (m Market) HasOutcome(outcome string) bool {
	return m.OutcomeIndex(outcome) >= 0
}
