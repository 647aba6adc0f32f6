// Package events delivers settlement lifecycle events to the node's outputs:
// the Redis bus, Kafka, chat notifications and the websocket hub.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// Pub/sub channels and the durable stream events are published on.
const (
	ChannelSettlement = "ch:settlement"
	ChannelSweep      = "ch:sweep"
	Stream            = "stream:settlement_events"
)

// ChannelFor returns the channel an event belongs on: per-market events go
// to ChannelSettlement, sweep lifecycle events to ChannelSweep.
func ChannelFor(ev domain.Event) string {
	if ev.MarketID != nil {
		return ChannelSettlement
	}
	return ChannelSweep
}

// Fanout emits every event to all of its sinks. One failing sink does not
// stop delivery to the rest; the failures are joined.
type Fanout struct {
	sinks  []domain.EventSink
	logger *slog.Logger
}

// NewFanout creates a Fanout over the non-nil sinks.
func NewFanout(logger *slog.Logger, sinks ...domain.EventSink) *Fanout {
	f := &Fanout{logger: logger.With(slog.String("component", "events"))}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Len returns the number of sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

// Emit implements domain.EventSink.
func (f *Fanout) Emit(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "sink failed",
				slog.String("type", ev.Type),
				slog.String("sink", fmt.Sprintf("%T", s)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Summary renders a one-line human description of ev, used as the message
// body of chat notifications.
func Summary(ev domain.Event) (title, message string) {
	var b strings.Builder
	if ev.MarketID != nil {
		title = fmt.Sprintf("Market %d %s", *ev.MarketID, ev.Type)
	} else {
		title = "Sweep " + strings.TrimPrefix(ev.Type, "sweep_")
	}
	if ev.Outcome != "" {
		b.WriteString("outcome: " + ev.Outcome)
		b.WriteString(" (confidence " + strconv.FormatFloat(ev.Confidence, 'f', 2, 64) + ")")
		if ev.Fallback {
			b.WriteString(" [fallback]")
		}
		b.WriteString("\n")
	}
	if ev.TxHash != "" {
		b.WriteString("tx: " + ev.TxHash + "\n")
	}
	if ev.Message != "" {
		b.WriteString(ev.Message + "\n")
	}
	if ev.SweepID != "" {
		b.WriteString("sweep: " + ev.SweepID)
		if ev.NodeID != "" {
			b.WriteString(" on " + ev.NodeID)
		}
	}
	return title, strings.TrimRight(b.String(), "\n")
}

var _ domain.EventSink = (*Fanout)(nil)
