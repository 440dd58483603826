// Package sqlite registers a SQLite-backed storage.Store using the pure-Go
// modernc.org/sqlite driver. SQLite has no user accounts, so credentials in
// storage.Config are ignored.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"tablesink/internal/storage"
	"tablesink/internal/storage/sqldb"
)

// newStore is a test hook that points to NewStore by default.
var newStore = NewStore

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// NewStore opens the database at dsn, for example:
//
//	"file:sink.db?_pragma=busy_timeout(5000)"
//	"sink.db"
//	":memory:"
func NewStore(ctx context.Context, dsn string) (*sqldb.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	s, err := sqldb.Open(ctx, db, "sqlite", storage.Question)
	if err != nil {
		return nil, err
	}
	// Ignore errors from drivers built without foreign key support.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return s, nil
}
