package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/storage"
)

// EventStore implements storage.EventStore using PostgreSQL.
type EventStore struct {
	pool *Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO inventory_history (
		event_id, product_id, action, quantity, delta, price, reason, created_at
	) VALUES ($1, $2, $3, $4, $5, CAST($6::text AS NUMERIC), $7, $8)
`

// Append adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, insertEventQuery, eventArgs(e)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// AppendBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *EventStore) AppendBulk(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if err := storage.ValidateEvent(e); err != nil {
			return err
		}
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		for _, e := range events {
			if _, err := tx.Exec(ctx, insertEventQuery, eventArgs(e)...); err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert event: %w", err)
			}
		}
		return nil
	})
}

func eventArgs(e *domain.Event) []any {
	var price *string
	if e.Price != nil {
		p := e.Price.String()
		price = &p
	}
	return []any{
		e.ID,
		e.ProductID,
		string(e.Action),
		e.Quantity,
		e.Delta(),
		price,
		e.Reason,
		e.OccurredAt.UTC(),
	}
}

// DailyAggregates groups events by UTC calendar day for events at or after since.
func (s *EventStore) DailyAggregates(ctx context.Context, productID string, since time.Time) ([]domain.DailyAggregate, error) {
	query := `
		SELECT
			(created_at AT TIME ZONE 'UTC')::date AS day,
			COALESCE(SUM(quantity) FILTER (WHERE action = 'SALE'), 0)::BIGINT AS sales,
			COALESCE(SUM(quantity) FILTER (WHERE action = 'PURCHASE'), 0)::BIGINT AS purchases,
			COUNT(*) AS transactions
		FROM inventory_history
		WHERE product_id = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.pool.Query(ctx, query, productID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DailyAggregate, 0)
	for rows.Next() {
		var day time.Time
		var sales, purchases, transactions int64
		if err := rows.Scan(&day, &sales, &purchases, &transactions); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		result = append(result, domain.DailyAggregate{
			ProductID:    productID,
			Date:         domain.TruncateDay(day),
			Sales:        float64(sales),
			Purchases:    float64(purchases),
			Transactions: transactions,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily aggregates: %w", err)
	}

	return result, nil
}

// ProductIDs returns all distinct product IDs, sorted ASC.
func (s *EventStore) ProductIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT product_id FROM inventory_history ORDER BY product_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query product ids: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect product ids: %w", err)
	}
	return ids, nil
}
