package domain

import "time"

// SettlementSubmission is the exact payload sent to the oracle.
type SettlementSubmission struct {
	MarketID uint64
	Outcome  string
	Proof    []byte
}

// TxResult describes a mined settlement transaction.
type TxResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"status"`
}

// AttemptStatus is the terminal state of one market within a sweep.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptSkipped   AttemptStatus = "skipped"
	AttemptHeld      AttemptStatus = "held"
)

// SettlementAttempt records what happened to one market in one sweep.
type SettlementAttempt struct {
	ID             int64         `json:"id,omitempty"`
	SweepID        string        `json:"sweep_id"`
	MarketID       uint64        `json:"market_id"`
	Question       string        `json:"question"`
	Status         AttemptStatus `json:"status"`
	Stage          string        `json:"stage,omitempty"`
	Outcome        string        `json:"outcome,omitempty"`
	Confidence     float64       `json:"confidence"`
	Fallback       bool          `json:"fallback"`
	Method         string        `json:"method,omitempty"`
	EvidenceCount  int           `json:"evidence_count"`
	EvidenceDigest string        `json:"evidence_digest,omitempty"`
	TxHash         string        `json:"tx_hash,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SweepSummary aggregates one sweep pass.
type SweepSummary struct {
	ID         string    `json:"id"`
	NodeID     string    `json:"node_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Eligible   int       `json:"eligible"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Held       int       `json:"held"`
	Cancelled  bool      `json:"cancelled"`
}

// SweepReport is the full outcome of a sweep pass.
type SweepReport struct {
	Summary  SweepSummary        `json:"summary"`
	Attempts []SettlementAttempt `json:"attempts"`
}

// Count tallies attempts into the summary counters.
func (r *SweepReport) Count() {
	r.Summary.Succeeded, r.Summary.Failed, r.Summary.Skipped, r.Summary.Held = 0, 0, 0, 0
	for _, a := range r.Attempts {
		switch a.Status {
		case AttemptSucceeded:
			r.Summary.Succeeded++
		case AttemptFailed:
			r.Summary.Failed++
		case AttemptSkipped:
			r.Summary.Skipped++
		case AttemptHeld:
			r.Summary.Held++
		}
	}
}
