package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action classifies an inventory movement.
type Action string

// Supported inventory actions.
const (
	ActionSale     Action = "SALE"     // negative inventory delta
	ActionPurchase Action = "PURCHASE" // positive inventory delta (restock)
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionSale || a == ActionPurchase
}

// MaxProductIDLen bounds the length of a product ID.
const MaxProductIDLen = 128

// productIDPattern keeps product IDs safe to embed in a file name.
var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidProductID reports whether id is a servable product ID: 1 to
// MaxProductIDLen characters drawn from letters, digits, '_' and '-'.
func ValidProductID(id string) bool {
	return len(id) <= MaxProductIDLen && productIDPattern.MatchString(id)
}

// Event is an immutable inventory movement for one product.
// Corresponds to inventory_history table.
type Event struct {
	ID         uuid.UUID        // unique event identifier (dedupe key)
	ProductID  string           // product identifier
	Action     Action           // SALE or PURCHASE
	Quantity   int64            // absolute quantity moved, always > 0
	Price      *decimal.Decimal // unit price, NULL if unknown
	Reason     *string          // free-form reason, NULL if absent
	OccurredAt time.Time        // event time (UTC)
}

// Delta returns the signed inventory change: negative for sales.
func (e *Event) Delta() int64 {
	if e.Action == ActionSale {
		return -e.Quantity
	}
	return e.Quantity
}

// Day returns the UTC calendar day the event belongs to.
func (e *Event) Day() time.Time {
	return TruncateDay(e.OccurredAt)
}

// TruncateDay returns midnight UTC of t's calendar day.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
