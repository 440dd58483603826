package ddl

import (
	"context"
	"fmt"
	"log/slog"

	"tablesink/internal/schema"
	"tablesink/internal/storage"
)

// Preparer is the subset of storage.Store the registry prepares through.
type Preparer interface {
	Prepare(ctx context.Context, t *schema.TableSchema) (storage.WriteHandle, error)
}

// EnsuringPreparer creates each table if it is missing, then prepares its
// insert through the wrapped store.
type EnsuringPreparer struct {
	Store   Preparer
	Exec    storage.Execer
	Dialect Dialect
	Logger  *slog.Logger
}

// NewEnsuringPreparer wraps store, which must also implement storage.Execer.
func NewEnsuringPreparer(store storage.Store, kind string, logger *slog.Logger) (*EnsuringPreparer, error) {
	d, err := ParseDialect(kind)
	if err != nil {
		return nil, err
	}
	exec, ok := store.(storage.Execer)
	if !ok {
		return nil, fmt.Errorf("ddl: %s store cannot execute DDL", kind)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EnsuringPreparer{Store: store, Exec: exec, Dialect: d, Logger: logger}, nil
}

// Prepare runs the create statement for t, then delegates.
func (p *EnsuringPreparer) Prepare(ctx context.Context, t *schema.TableSchema) (storage.WriteHandle, error) {
	stmt, err := BuildCreateTableSQL(p.Dialect, FromSchema(p.Dialect, t))
	if err != nil {
		return nil, err
	}
	if err := p.Exec.Exec(ctx, stmt); err != nil {
		return nil, fmt.Errorf("ensure table %s: %w", t.Name, err)
	}
	p.Logger.Debug("table ensured", "table", t.Name, "dialect", string(p.Dialect))
	return p.Store.Prepare(ctx, t)
}
