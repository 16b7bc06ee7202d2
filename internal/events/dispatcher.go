// Package events dispatches domain events drained from committed units of
// work. Delivery (email, webhooks) is outside the identity core; sinks here
// log events and hand them to whatever consumer is wired in.
package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian-identity/internal/domain"
)

// Dispatcher receives domain events after a successful commit. Dispatch must
// not fail the calling transaction; it has already committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.Event)
}

// NopDispatcher discards all events.
type NopDispatcher struct{}

// Dispatch implements Dispatcher.
func (NopDispatcher) Dispatch(context.Context, []domain.Event) {}

// LogDispatcher writes each event to the structured log. Token values are
// deliberately not logged.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "event_dispatcher").Logger()}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, events []domain.Event) {
	for _, event := range events {
		evt := d.logger.Info().Str("event", event.EventName())
		switch e := event.(type) {
		case domain.PasswordResetTokenGenerated:
			evt = evt.Str("user_id", e.UserID.String()).Str("email", e.EmailAddress)
		case domain.AccountConfirmationTokenGenerated:
			evt = evt.Str("user_id", e.UserID.String()).Str("email", e.EmailAddress)
		}
		evt.Msg("domain event dispatched")
	}
}

// ChannelDispatcher forwards events to a buffered channel for an external
// consumer (e.g. the notification relay). Events are dropped when the
// buffer is full or the context is done; a post-commit dispatch must never
// block the request.
type ChannelDispatcher struct {
	events chan domain.Event
}

// NewChannelDispatcher creates a ChannelDispatcher with the given buffer.
func NewChannelDispatcher(buffer int) *ChannelDispatcher {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelDispatcher{events: make(chan domain.Event, buffer)}
}

// Dispatch implements Dispatcher.
func (d *ChannelDispatcher) Dispatch(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		select {
		case d.events <- event:
		case <-ctx.Done():
			return
		default:
			return
		}
	}
}

// Events returns the receive side of the channel.
func (d *ChannelDispatcher) Events() <-chan domain.Event {
	return d.events
}
