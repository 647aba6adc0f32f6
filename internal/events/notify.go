package events

import (
	"context"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// Notifier is satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifySink turns events into chat notifications. Filtering by event type
// is the notifier's job.
type NotifySink struct {
	n Notifier
}

// NewNotifySink creates a NotifySink on n.
func NewNotifySink(n Notifier) *NotifySink {
	return &NotifySink{n: n}
}

// Emit implements domain.EventSink.
func (s *NotifySink) Emit(ctx context.Context, ev domain.Event) error {
	title, msg := Summary(ev)
	return s.n.Notify(ctx, ev.Type, title, msg)
}

var _ domain.EventSink = (*NotifySink)(nil)
