package migrations

import (
	"context"
	"fmt"

	"stockwise-ml/internal/storage/sqlite"
)

// RunSQLiteMigrations applies all embedded SQLite migrations one statement at a time.
func RunSQLiteMigrations(ctx context.Context, db *sqlite.DB) error {
	files, err := readSQLFiles(SQLiteFS, "sqlite")
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := validateNoSemicolonInStrings(f.body); err != nil {
			return fmt.Errorf("validate migration %s: %w", f.name, err)
		}
		for _, stmt := range splitStatements(f.body) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", f.name, err)
			}
		}
	}
	return nil
}
