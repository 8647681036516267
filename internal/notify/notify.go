// Package notify delivers structured outcomes (settlement results, urgency
// refreshes) to whoever presents them: WebSocket clients, a message broker,
// or the log.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypeSettled          = "settlement.succeeded"
	TypeAlreadyPaid      = "settlement.already_paid"
	TypeRateLimited      = "settlement.rate_limited"
	TypeSettlementFailed = "settlement.failed"
	TypeOrderUpdated     = "order.updated"
	TypeTemporal         = "orders.temporal"
)

// Event is a structured outcome. Presentation is up to the sink's consumer.
type Event struct {
	Type              string          `json:"type"`
	OutletID          uuid.UUID       `json:"outlet_id"`
	OrderKey          string          `json:"order_key,omitempty"`
	Message           string          `json:"message,omitempty"`
	RetryAfterMinutes int             `json:"retry_after_minutes,omitempty"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	At                time.Time       `json:"at"`
}

// Sink receives events. Implementations must not block for long.
type Sink interface {
	Notify(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, e)
		}
	}
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, e Event) {
	ev := log.Info()
	if e.Type == TypeSettlementFailed {
		ev = log.Warn()
	}
	ev.Str("type", e.Type).
		Stringer("outlet_id", e.OutletID).
		Str("order_key", e.OrderKey).
		Int("retry_after_minutes", e.RetryAfterMinutes).
		Msg(e.Message)
}

// WithPayload returns e with v marshalled as its payload. Marshal failures
// leave the payload empty.
func WithPayload(e Event, v any) Event {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type).Msg("notify: marshal payload")
		return e
	}
	e.Payload = b
	return e
}
