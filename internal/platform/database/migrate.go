package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
)

// Migrate applies every .sql file in the filesystem in lexical order. Files
// are written to be idempotent (CREATE TABLE IF NOT EXISTS), so running on
// every startup is safe; a real multi-node deployment would gate this behind
// a lock or a dedicated job.
func Migrate(ctx context.Context, db *sql.DB, files fs.FS) error {
	entries, err := fs.Glob(files, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		stmt, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(stmt)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
