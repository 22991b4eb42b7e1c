// Package sqlite is the embedded result store for local experiment runs.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS extraction_results (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	eligible        INTEGER NOT NULL,
	cancer_category TEXT,
	document        TEXT NOT NULL,
	failures        TEXT NOT NULL DEFAULT '[]',
	elapsed_ms      INTEGER NOT NULL DEFAULT 0,
	storage_key     TEXT NOT NULL DEFAULT '',
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_results_created_at ON extraction_results (created_at DESC);`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

// Open opens the database at path and applies the schema. ":memory:" gives a
// private in-memory store.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One writer; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return db, nil
}
