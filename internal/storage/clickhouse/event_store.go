package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
//
// MergeTree does not enforce uniqueness at insert time. Append checks for an
// existing event_id first; re-delivered rows that race past the check collapse
// in ReplacingMergeTree and reads use FINAL.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

// Append adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	return s.AppendBulk(ctx, []*domain.Event{e})
}

// AppendBulk adds multiple events in one batch. Fails entire batch on duplicate.
func (s *EventStore) AppendBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	seen := make(map[uuid.UUID]struct{}, len(events))
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[e.ID] = struct{}{}
	}

	for _, e := range events {
		exists, err := s.exists(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO inventory_history (
			event_id, product_id, action, quantity, delta, price, reason, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		// Pass nil pointers directly for Nullable columns
		err = batch.Append(
			e.ID, e.ProductID, string(e.Action),
			e.Quantity, e.Delta(),
			e.Price, e.Reason,
			e.OccurredAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (s *EventStore) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM inventory_history WHERE event_id = ?`, id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// DailyAggregates groups events by UTC calendar day for events at or after since.
func (s *EventStore) DailyAggregates(ctx context.Context, productID string, since time.Time) ([]domain.DailyAggregate, error) {
	query := `
		SELECT
			toDate(created_at, 'UTC') AS day,
			sumIf(quantity, action = 'SALE') AS sales,
			sumIf(quantity, action = 'PURCHASE') AS purchases,
			count() AS transactions
		FROM inventory_history FINAL
		WHERE product_id = ? AND created_at >= ?
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.conn.Query(ctx, query, productID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DailyAggregate, 0)
	for rows.Next() {
		var day time.Time
		var sales, purchases int64
		var transactions uint64
		if err := rows.Scan(&day, &sales, &purchases, &transactions); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		result = append(result, domain.DailyAggregate{
			ProductID:    productID,
			Date:         domain.TruncateDay(day),
			Sales:        float64(sales),
			Purchases:    float64(purchases),
			Transactions: int64(transactions),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily aggregates: %w", err)
	}

	return result, nil
}

// ProductIDs returns all distinct product IDs, sorted ASC.
func (s *EventStore) ProductIDs(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT DISTINCT product_id FROM inventory_history ORDER BY product_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query product ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
