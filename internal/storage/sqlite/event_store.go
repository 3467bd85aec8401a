package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/storage"
)

// EventStore implements storage.EventStore using SQLite.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new EventStore.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const insertEventQuery = `
	INSERT INTO inventory_history (
		event_id, product_id, action, quantity, delta, price, reason, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, e *domain.Event) error {
	var price, reason sql.NullString
	if e.Price != nil {
		price = sql.NullString{String: e.Price.String(), Valid: true}
	}
	if e.Reason != nil {
		reason = sql.NullString{String: *e.Reason, Valid: true}
	}

	_, err := db.ExecContext(ctx, insertEventQuery,
		e.ID.String(),
		e.ProductID,
		string(e.Action),
		e.Quantity,
		e.Delta(),
		price,
		reason,
		e.OccurredAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Append adds a new event. Returns ErrDuplicateKey if event_id exists.
func (s *EventStore) Append(ctx context.Context, e *domain.Event) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}
	return insertEvent(ctx, s.db, e)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if err := insertEvent(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DailyAggregates groups events by UTC calendar day for events at or after since.
// created_at is stored in a fixed-width UTC layout, so its first 10 characters are the day.
func (s *EventStore) DailyAggregates(ctx context.Context, productID string, since time.Time) ([]domain.DailyAggregate, error) {
	query := `
		SELECT
			substr(created_at, 1, 10) AS day,
			COALESCE(SUM(CASE WHEN action = 'SALE' THEN quantity ELSE 0 END), 0) AS sales,
			COALESCE(SUM(CASE WHEN action = 'PURCHASE' THEN quantity ELSE 0 END), 0) AS purchases,
			COUNT(*) AS transactions
		FROM inventory_history
		WHERE product_id = ? AND created_at >= ?
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.db.QueryContext(ctx, query, productID, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query daily aggregates: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DailyAggregate, 0)
	for rows.Next() {
		var day string
		var sales, purchases, transactions int64
		if err := rows.Scan(&day, &sales, &purchases, &transactions); err != nil {
			return nil, fmt.Errorf("scan daily aggregate: %w", err)
		}
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("parse day %q: %w", day, err)
		}
		result = append(result, domain.DailyAggregate{
			ProductID:    productID,
			Date:         date,
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
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT product_id FROM inventory_history ORDER BY product_id ASC`)
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
