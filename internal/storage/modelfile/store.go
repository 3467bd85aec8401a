// Package modelfile stores serialized models as one file per product.
package modelfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"stockwise-ml/internal/domain"
	"stockwise-ml/internal/storage"
)

// Store implements storage.ModelStore on a local directory.
// Files are named model_<product_id>.json.
type Store struct {
	dir string
}

// New creates the directory if needed and returns a Store rooted at it.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("model dir: %w", storage.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Compile-time interface check.
var _ storage.ModelStore = (*Store)(nil)

// Path returns the file path used for a product.
func (s *Store) Path(productID string) string {
	return filepath.Join(s.dir, "model_"+productID+".json")
}

// Save writes the blob to a temp file in the same directory, syncs it, then
// renames it over the previous file. Rename is atomic on POSIX filesystems.
func (s *Store) Save(_ context.Context, productID string, blob []byte) error {
	if !domain.ValidProductID(productID) || len(blob) == 0 {
		return storage.ErrInvalidInput
	}

	tmp, err := os.CreateTemp(s.dir, ".model_"+productID+"_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp model file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp model file: %w", err)
	}

	if err := os.Rename(tmpName, s.Path(productID)); err != nil {
		return fmt.Errorf("rename model file: %w", err)
	}
	committed = true
	return nil
}

// Load reads the blob for a product. Returns ErrNotFound if no file exists.
func (s *Store) Load(_ context.Context, productID string) ([]byte, error) {
	if !domain.ValidProductID(productID) {
		return nil, storage.ErrInvalidInput
	}

	data, err := os.ReadFile(s.Path(productID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return data, nil
}
