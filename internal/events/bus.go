package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// BusSink publishes events on the signal bus for live listeners and appends
// them to Stream for replay.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink on bus.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

// Emit implements domain.EventSink.
func (s *BusSink) Emit(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	if err := s.bus.Publish(ctx, ChannelFor(ev), payload); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if err := s.bus.StreamAppend(ctx, Stream, payload); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

var _ domain.EventSink = (*BusSink)(nil)
