package sale

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind names an event payload.
type EventKind string

const (
	EventPurchased     EventKind = "Purchased"
	EventClaimed       EventKind = "Claimed"
	EventConfigChanged EventKind = "ConfigChanged"
)

// Purchased is emitted by a successful purchase.
type Purchased struct {
	Investor      string `json:"investor"`
	PaymentAmount Amount `json:"payment_amount"`
	SaleAmount    Amount `json:"sale_amount"`
	Timestamp     int64  `json:"timestamp"`
}

// Claimed is emitted by a successful claim.
type Claimed struct {
	Investor   string `json:"investor"`
	SaleAmount Amount `json:"sale_amount"`
}

// ConfigChanged is emitted by every admin mutation of a sale.
type ConfigChanged struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Event is the envelope delivered to sinks.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	SaleID     uuid.UUID       `json:"sale_id"`
	Kind       EventKind       `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// EventSink receives events after the mutation that produced them committed.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, events []Event) error

func (f EventSinkFunc) Publish(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, []Event) error { return nil }

func newEvent(saleID uuid.UUID, kind EventKind, at time.Time, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s event: %w", kind, err)
	}
	return Event{
		ID:         uuid.New(),
		SaleID:     saleID,
		Kind:       kind,
		OccurredAt: at.UTC(),
		Payload:    data,
	}, nil
}

func configChanged(saleID uuid.UUID, at time.Time, field string, oldValue, newValue interface{}) (Event, error) {
	return newEvent(saleID, EventConfigChanged, at, ConfigChanged{
		Field:    field,
		OldValue: fmt.Sprint(oldValue),
		NewValue: fmt.Sprint(newValue),
	})
}

func (e Event) toOutbox() OutboxEvent {
	return OutboxEvent{
		ID:         e.ID,
		SaleID:     e.SaleID,
		Kind:       string(e.Kind),
		Payload:    []byte(e.Payload),
		OccurredAt: e.OccurredAt,
	}
}

func (o OutboxEvent) toEvent() Event {
	return Event{
		ID:         o.ID,
		SaleID:     o.SaleID,
		Kind:       EventKind(o.Kind),
		OccurredAt: o.OccurredAt,
		Payload:    json.RawMessage(o.Payload),
	}
}
