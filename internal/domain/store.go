package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	MarketID *uint64
	Status   AttemptStatus
	Since    *time.Time
}

// SettlementStore persists settlement attempts and sweep summaries.
type SettlementStore interface {
	RecordAttempt(ctx context.Context, a SettlementAttempt) error
	ListAttempts(ctx context.Context, opts ListOpts) ([]SettlementAttempt, error)
	RecordSweep(ctx context.Context, s SweepSummary) error
	LastSweep(ctx context.Context) (SweepSummary, error)
}
