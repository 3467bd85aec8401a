package storage

import (
	"context"
	"time"

	"stockwise-ml/internal/domain"
)

// EventStore provides access to inventory_history storage.
type EventStore interface {
	// Append adds a new event. Returns ErrDuplicateKey if event ID exists.
	Append(ctx context.Context, e *domain.Event) error

	// AppendBulk adds multiple events atomically. Fails entire batch on any duplicate.
	AppendBulk(ctx context.Context, events []*domain.Event) error

	// DailyAggregates returns one row per calendar day with events at or after since,
	// ordered by date ASC. Returns an empty slice if the product has no events.
	DailyAggregates(ctx context.Context, productID string, since time.Time) ([]domain.DailyAggregate, error)

	// ProductIDs returns all distinct product IDs with at least one event, sorted ASC.
	ProductIDs(ctx context.Context) ([]string, error)
}

// ModelStore persists one serialized fitted model per product.
// Save overwrites; readers observe either the previous or the new blob, never a partial one.
type ModelStore interface {
	// Save writes the blob for a product, replacing any previous blob.
	Save(ctx context.Context, productID string, blob []byte) error

	// Load returns the blob for a product. Returns ErrNotFound if none was saved.
	Load(ctx context.Context, productID string) ([]byte, error)
}

// ValidateEvent checks the fields every store relies on.
func ValidateEvent(e *domain.Event) error {
	if e == nil || e.ProductID == "" || !e.Action.Valid() || e.Quantity <= 0 || e.OccurredAt.IsZero() {
		return ErrInvalidInput
	}
	return nil
}
