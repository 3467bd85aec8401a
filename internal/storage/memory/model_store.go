package memory

import (
	"context"
	"sync"

	"stockwise-ml/internal/storage"
)

// ModelStore is an in-memory implementation of storage.ModelStore.
type ModelStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewModelStore creates a new in-memory model store.
func NewModelStore() *ModelStore {
	return &ModelStore{blobs: make(map[string][]byte)}
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

// Save replaces the blob for a product.
func (s *ModelStore) Save(_ context.Context, productID string, blob []byte) error {
	if productID == "" || len(blob) == 0 {
		return storage.ErrInvalidInput
	}

	cp := make([]byte, len(blob))
	copy(cp, blob)

	s.mu.Lock()
	s.blobs[productID] = cp
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the blob for a product. Returns ErrNotFound if absent.
func (s *ModelStore) Load(_ context.Context, productID string) ([]byte, error) {
	s.mu.RLock()
	blob, ok := s.blobs[productID]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, nil
}
