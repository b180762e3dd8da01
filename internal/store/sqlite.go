package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the task database at path and bootstraps
// the schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	query := `
CREATE TABLE IF NOT EXISTS upload_tasks (
  id             TEXT PRIMARY KEY,
  file_path      TEXT NOT NULL,
  file_name      TEXT NOT NULL,
  backend_id     TEXT NOT NULL,
  created_at     TEXT NOT NULL,
  status         TEXT NOT NULL,
  retry_count    INTEGER NOT NULL DEFAULT 0,
  error_message  TEXT NOT NULL DEFAULT '',
  uploaded_bytes INTEGER NOT NULL DEFAULT 0,
  total_bytes    INTEGER NOT NULL DEFAULT 0,
  resume_token   TEXT NOT NULL DEFAULT ''
);`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}
