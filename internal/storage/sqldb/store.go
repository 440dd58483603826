// Package sqldb implements storage.Store on top of database/sql. It is shared
// by the MySQL, SQL Server and SQLite backends, which differ only in driver,
// DSN handling and placeholder style.
//
// The pool is capped at one open connection so that the store behaves like a
// single session: prepared statements, transactions and batch execution all
// run against the same connection, and cycles never overlap.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tablesink/internal/schema"
	"tablesink/internal/storage"
)

// Store is a database/sql-backed storage.Store.
type Store struct {
	db    *sql.DB
	name  string
	style storage.PlaceholderStyle
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Execer = (*Store)(nil)
)

// Open wraps db, pins it to a single connection and pings it so that bad DSNs
// fail at startup. name prefixes errors ("mysql", "sqlite", ...).
func Open(ctx context.Context, db *sql.DB, name string, style storage.PlaceholderStyle) (*Store, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", name, err)
	}
	return &Store{db: db, name: name, style: style}, nil
}

// DB exposes the underlying handle for DDL and tests.
func (s *Store) DB() *sql.DB { return s.db }

// Prepare prepares t's insert statement rebound to the driver's placeholder
// style.
func (s *Store) Prepare(ctx context.Context, t *schema.TableSchema) (storage.WriteHandle, error) {
	query := storage.Rebind(s.style, t.InsertStatement())
	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: prepare %s: %w", s.name, t.Name, err)
	}
	return &handle{table: t.Name, stmt: stmt, owner: s}, nil
}

// Begin starts a transaction on the store's connection.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", s.name, err)
	}
	return &sqlTx{tx: tx, owner: s}, nil
}

// Exec runs query on the store's connection.
func (s *Store) Exec(ctx context.Context, query string) error {
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("%s: exec: %w", s.name, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

type handle struct {
	table string
	stmt  *sql.Stmt
	owner *Store
}

func (h *handle) Table() string { return h.table }
func (h *handle) Close() error  { return h.stmt.Close() }

type sqlTx struct {
	tx    *sql.Tx
	owner *Store
}

// ExecBatch binds every row to the prepared statement inside the transaction.
// The first failing row aborts the batch; the caller rolls back.
func (t *sqlTx) ExecBatch(ctx context.Context, wh storage.WriteHandle, rows [][]any) (int64, error) {
	h, ok := wh.(*handle)
	if !ok || h.owner != t.owner {
		return 0, storage.ErrForeignHandle
	}
	if len(rows) == 0 {
		return 0, nil
	}

	stmt := t.tx.StmtContext(ctx, h.stmt)
	defer stmt.Close()

	var n int64
	for i, row := range rows {
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return n, fmt.Errorf("%s: %s row %d: %w", t.owner.name, h.table, i, err)
		}
		if ra, err := res.RowsAffected(); err == nil {
			n += ra
		} else {
			n++
		}
	}
	return n, nil
}

func (t *sqlTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", t.owner.name, err)
	}
	return nil
}

func (t *sqlTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%s: rollback: %w", t.owner.name, err)
	}
	return nil
}
