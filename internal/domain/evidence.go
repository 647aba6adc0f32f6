package domain

import (
	"context"
	"time"
)

// EvidenceRecord is the normalized output of one evidence source for one
// market. Records live only for the duration of a settlement attempt.
type EvidenceRecord struct {
	SourceName string    `json:"source"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Observation is one node's raw output for a consensus round.
type Observation struct {
	NodeID  string `json:"node_id"`
	Content string `json:"content"`
}

// ObservationBoard is the shared medium nodes use to exchange observations
// for a consensus round. Collect blocks until want distinct nodes have
// published for round or ctx expires, and returns whatever it has seen.
type ObservationBoard interface {
	Publish(ctx context.Context, round string, obs Observation) error
	Collect(ctx context.Context, round string, want int) ([]Observation, error)
}
