package postgres

import (
	"context"
	"fmt"

	"stockwise-ml/internal/storage"
)

// ModelStore implements storage.ModelStore using a single-row-per-product table.
// The upsert is one statement, so readers see the old or the new blob.
type ModelStore struct {
	pool *Pool
}

// NewModelStore creates a new ModelStore.
func NewModelStore(pool *Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

// Save replaces the blob for a product.
func (s *ModelStore) Save(ctx context.Context, productID string, blob []byte) error {
	if productID == "" || len(blob) == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO model_blobs (product_id, blob, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (product_id) DO UPDATE
		SET blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, productID, blob); err != nil {
		return fmt.Errorf("upsert model blob: %w", err)
	}
	return nil
}

// Load returns the blob for a product. Returns ErrNotFound if absent.
func (s *ModelStore) Load(ctx context.Context, productID string) ([]byte, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `SELECT blob FROM model_blobs WHERE product_id = $1`, productID).Scan(&blob)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query model blob: %w", err)
	}
	return blob, nil
}
