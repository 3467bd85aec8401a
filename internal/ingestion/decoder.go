package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"stockwise-ml/internal/domain"
)

// ErrMalformedEvent is returned when a queue message cannot be decoded into events.
var ErrMalformedEvent = errors.New("malformed event")

// eventNamespace seeds deterministic event IDs for messages that carry a
// delivery position, so a redelivered message maps to the same IDs.
var eventNamespace = uuid.MustParse("5b0f4d6e-9c1a-4c39-8f0e-3a7d2f64c1b8")

// Message is one raw message received from a source.
type Message struct {
	Topic   string
	Payload []byte

	// Position identifies the message within its source (partition/offset).
	// Empty for sources without replay semantics; events then get random IDs.
	Position string

	// ReceivedAt is used as the event time when the payload has none.
	ReceivedAt time.Time

	// ack commits the message at the source. Nil for sources without commit.
	ack func() error
}

// Ack commits the message at its source, if the source supports it.
func (m Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack()
}

// Decode converts a message into inventory events.
// Order events other than ORDER_FULFILLED decode to no events and no error.
func Decode(m Message) ([]*domain.Event, error) {
	switch m.Topic {
	case domain.TopicOrderEvents:
		return decodeOrder(m)
	case domain.TopicInventoryUpdates:
		return decodeInventory(m)
	default:
		return nil, fmt.Errorf("%w: unknown topic %q", ErrMalformedEvent, m.Topic)
	}
}

func decodeOrder(m Message) ([]*domain.Event, error) {
	var msg domain.OrderEvent
	if err := decodePayload(m.Payload, &msg); err != nil {
		return nil, err
	}
	if msg.EventType != domain.OrderEventFulfilled {
		return nil, nil
	}
	if len(msg.Items) == 0 {
		return nil, fmt.Errorf("%w: order without items", ErrMalformedEvent)
	}

	at := occurredAt(msg.OccurredAt, m.ReceivedAt)
	events := make([]*domain.Event, 0, len(msg.Items))
	for i, item := range msg.Items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item %d: missing product_id", ErrMalformedEvent, i)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d: quantity %d", ErrMalformedEvent, i, item.Quantity)
		}
		events = append(events, &domain.Event{
			ID:         eventID(m, i),
			ProductID:  item.ProductID,
			Action:     domain.ActionSale,
			Quantity:   item.Quantity,
			Price:      item.Price,
			OccurredAt: at,
		})
	}
	return events, nil
}

func decodeInventory(m Message) ([]*domain.Event, error) {
	var msg domain.InventoryEvent
	if err := decodePayload(m.Payload, &msg); err != nil {
		return nil, err
	}
	if msg.ProductID == "" {
		return nil, fmt.Errorf("%w: missing product_id", ErrMalformedEvent)
	}
	if msg.Delta == 0 {
		return nil, fmt.Errorf("%w: zero delta", ErrMalformedEvent)
	}

	action := domain.ActionPurchase
	qty := msg.Delta
	if msg.Delta < 0 {
		action = domain.ActionSale
		qty = -msg.Delta
	}
	return []*domain.Event{{
		ID:         eventID(m, 0),
		ProductID:  msg.ProductID,
		Action:     action,
		Quantity:   qty,
		Reason:     msg.Reason,
		OccurredAt: occurredAt(msg.OccurredAt, m.ReceivedAt),
	}}, nil
}

// decodePayload unmarshals a non-empty JSON payload into v. Fields v does not
// declare are ignored: upstream producers publish more than ingestion reads,
// such as order and customer IDs.
func decodePayload(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func occurredAt(at *time.Time, received time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return at.UTC()
	}
	return received.UTC()
}

func eventID(m Message, item int) uuid.UUID {
	if m.Position == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(eventNamespace, []byte(m.Topic+"/"+m.Position+"/"+strconv.Itoa(item)))
}
