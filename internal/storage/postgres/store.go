// Package postgres registers a Postgres-backed storage.Store using pgx v5.
//
// The store holds one pooled connection for its whole lifetime. Write handles
// are server-side prepared statements on that connection, and ExecBatch
// queues one execution per row into a pgx.Batch so a table's rows reach the
// server in a single round trip.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tablesink/internal/schema"
	"tablesink/internal/storage"
)

// newStore is a test hook that points to NewStore by default.
// Tests may replace this variable to avoid real DB connections.
var newStore = NewStore

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		s, err := newStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// stmtSeq makes prepared statement names unique across generations.
var stmtSeq atomic.Uint64

// Store is a pgx-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
	conn *pgxpool.Conn
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Execer = (*Store)(nil)
)

// poolConfig parses dsn (URL or key=value form) and applies credentials.
func poolConfig(cfg storage.Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if cfg.User != "" {
		pc.ConnConfig.User = cfg.User
	}
	if cfg.Password != "" {
		pc.ConnConfig.Password = cfg.Password
	}
	pc.MaxConns = 1
	return pc, nil
}

// NewStore connects and pins one connection for prepared statements and
// transactions.
func NewStore(ctx context.Context, cfg storage.Config) (*Store, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: acquire: %w", err)
	}
	return &Store{pool: pool, conn: conn}, nil
}

// Prepare creates a named server-side statement for t.
func (s *Store) Prepare(ctx context.Context, t *schema.TableSchema) (storage.WriteHandle, error) {
	name := fmt.Sprintf("tablesink_%d", stmtSeq.Add(1))
	query := storage.Rebind(storage.Dollar, t.InsertStatement())
	if _, err := s.conn.Conn().Prepare(ctx, name, query); err != nil {
		return nil, fmt.Errorf("postgres: prepare %s: %w", t.Name, pgError(err))
	}
	return &handle{table: t.Name, name: name, owner: s}, nil
}

// Begin starts a transaction on the pinned connection.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &pgTx{tx: tx, owner: s}, nil
}

// Exec runs query on the pinned connection.
func (s *Store) Exec(ctx context.Context, query string) error {
	if _, err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: exec: %w", pgError(err))
	}
	return nil
}

// Close releases the pinned connection and closes the pool.
func (s *Store) Close() error {
	s.conn.Release()
	s.pool.Close()
	return nil
}

type handle struct {
	table string
	name  string
	owner *Store
}

func (h *handle) Table() string { return h.table }

func (h *handle) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.owner.conn.Conn().Deallocate(ctx, h.name)
}

type pgTx struct {
	tx    pgx.Tx
	owner *Store
}

// ExecBatch queues one execution of the prepared statement per row and sends
// them as one batch.
func (t *pgTx) ExecBatch(ctx context.Context, wh storage.WriteHandle, rows [][]any) (int64, error) {
	h, ok := wh.(*handle)
	if !ok || h.owner != t.owner {
		return 0, storage.ErrForeignHandle
	}
	if len(rows) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, row := range rows {
		b.Queue(h.name, row...)
	}
	br := t.tx.SendBatch(ctx, b)

	var n int64
	for i := range rows {
		ct, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return n, fmt.Errorf("postgres: %s row %d: %w", h.table, i, pgError(err))
		}
		n += ct.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return n, fmt.Errorf("postgres: %s batch: %w", h.table, pgError(err))
	}
	return n, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", pgError(err))
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

// pgError enriches server errors with their detail and SQLSTATE while keeping
// the original error wrapped.
func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w (%s, SQLSTATE %s)", err, pgErr.Detail, pgErr.SQLState())
	}
	return err
}
