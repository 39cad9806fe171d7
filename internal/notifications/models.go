package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"token-sale/sale-backend/internal/sale"
)

// Message types sent to websocket subscribers
const (
	MessageTypeEvent  = "sale_event"
	MessageTypeStatus = "status"
)

// Message is the JSON frame delivered to websocket subscribers and
// published to SNS.
type Message struct {
	Type       string          `json:"type"`
	EventID    uuid.UUID       `json:"event_id,omitempty"`
	SaleID     uuid.UUID       `json:"sale_id"`
	Kind       sale.EventKind  `json:"kind,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEventMessage wraps a sale event.
func NewEventMessage(ev sale.Event) Message {
	return Message{
		Type:       MessageTypeEvent,
		EventID:    ev.ID,
		SaleID:     ev.SaleID,
		Kind:       ev.Kind,
		OccurredAt: ev.OccurredAt,
		Payload:    ev.Payload,
	}
}

// ArchivedEvent is the DynamoDB item written for each event. The table key
// is (sale_id, event_key) so one sale's history reads back in order.
type ArchivedEvent struct {
	SaleID     string `dynamodbav:"sale_id"`
	EventKey   string `dynamodbav:"event_key"`
	EventID    string `dynamodbav:"event_id"`
	Kind       string `dynamodbav:"kind"`
	OccurredAt string `dynamodbav:"occurred_at"`
	Payload    string `dynamodbav:"payload"`
}

func newArchivedEvent(ev sale.Event) ArchivedEvent {
	occurred := ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	return ArchivedEvent{
		SaleID:     ev.SaleID.String(),
		EventKey:   occurred + "#" + ev.ID.String(),
		EventID:    ev.ID.String(),
		Kind:       string(ev.Kind),
		OccurredAt: occurred,
		Payload:    string(ev.Payload),
	}
}
