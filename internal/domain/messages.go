package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Upstream topic names.
const (
	TopicOrderEvents      = "order-events"
	TopicInventoryUpdates = "inventory-updates"
)

// OrderEventFulfilled is the only order event type that produces sales.
const OrderEventFulfilled = "ORDER_FULFILLED"

// OrderEvent is the order-fulfillment message published by the order service.
type OrderEvent struct {
	EventType  string           `json:"event_type"`
	Items      []OrderEventItem `json:"items"`
	OccurredAt *time.Time       `json:"occurred_at,omitempty"`
}

// OrderEventItem is one line of an order.
type OrderEventItem struct {
	ProductID string           `json:"product_id"`
	Quantity  int64            `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// InventoryEvent is the inventory-delta message published by the inventory service.
type InventoryEvent struct {
	ProductID  string     `json:"product_id"`
	Delta      int64      `json:"delta"`
	Reason     *string    `json:"reason,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}
