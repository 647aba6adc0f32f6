package domain

import (
	"context"
	"time"
)

// Event types emitted by the sweep.
const (
	EventSweepStarted  = "sweep_started"
	EventSweepFinished = "sweep_finished"
	EventSweepError    = "sweep_error"
	EventSettled       = "settled"
	EventFailed        = "failed"
	EventSkipped       = "skipped"
	EventHeld          = "held"
)

// Event is a settlement lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	SweepID    string    `json:"sweep_id"`
	NodeID     string    `json:"node_id,omitempty"`
	MarketID   *uint64   `json:"market_id,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventSink receives settlement events.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}
