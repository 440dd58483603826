// Package storage contains the store-agnostic contracts used by the sink and a
// small factory that backends register themselves with.
//
// A Store owns one active connection. Write handles are prepared against that
// connection once per table per schema generation, and rows are executed
// through them inside a store transaction:
//
//	h, _ := store.Prepare(ctx, table)   // at schema load
//	tx, _ := store.Begin(ctx)           // once per cycle
//	_, _ = tx.ExecBatch(ctx, h, rows)   // per dirty table
//	_ = tx.Commit(ctx)
//
// Backends live in subpackages (postgres, mysql, mssql, sqlite) and register
// from init(). Import storage/all package to enable every backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tablesink/internal/schema"
)

// ErrForeignHandle is returned when a Tx is handed a WriteHandle prepared by a
// different backend.
var ErrForeignHandle = errors.New("storage: write handle belongs to another store")

// WriteHandle is a prepared, store-specific insert for one table.
type WriteHandle interface {
	// Table is the destination table name.
	Table() string
	// Close releases the prepared statement.
	Close() error
}

// Tx is one store-side transaction.
type Tx interface {
	// ExecBatch executes rows through h as one batch and returns the number of
	// rows the store reports as written.
	ExecBatch(ctx context.Context, h WriteHandle, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is a relational sink with a single active connection.
type Store interface {
	// Prepare opens a write handle for t's insert statement.
	Prepare(ctx context.Context, t *schema.TableSchema) (WriteHandle, error)
	// Begin starts a store transaction.
	Begin(ctx context.Context) (Tx, error)
	// Close closes the connection. Handles must be closed first.
	Close() error
}

// Execer runs a standalone statement on the store's connection, outside any
// cycle transaction. Backends implement it for DDL.
type Execer interface {
	Exec(ctx context.Context, query string) error
}

// Config is the backend-agnostic store configuration.
type Config struct {
	// Kind selects the backend: "postgres", "mysql", "mssql", "sqlite".
	Kind string
	// DSN is the backend connection string.
	DSN string
	// User and Password are merged into DSN by the backend. Empty values leave
	// whatever DSN already carries.
	User     string
	Password string
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init().
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Store using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q (registered: %v)", cfg.Kind, ListKinds())
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered backend kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
