// Package cycle drives bounded write cycles: pull records from the upstream
// queue, route them into per-table batches, flush the batches in one store
// transaction and only then acknowledge upstream.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tablesink/internal/batch"
	"tablesink/internal/metrics"
	"tablesink/internal/record"
	"tablesink/internal/registry"
	"tablesink/internal/storage"
	"tablesink/internal/upstream"
)

// DefaultBatchSize is the number of records pulled per cycle.
const DefaultBatchSize = 100

// ErrStoreCommit wraps any failure executing or committing the store
// transaction. The upstream transaction has been rolled back when it is
// returned, so the same records are delivered again next cycle.
var ErrStoreCommit = errors.New("store commit failed")

// Status is the outcome of a cycle.
type Status int

const (
	// Ready means the cycle pulled a full batch; more work may be waiting.
	Ready Status = iota
	// Backoff means the upstream ran dry; the caller should pause.
	Backoff
)

func (s Status) String() string {
	if s == Ready {
		return "ready"
	}
	return "backoff"
}

// State is the coordinator's position in a cycle.
type State int32

const (
	Idle State = iota
	Pulling
	Routing
	Committing
	Committed
	RolledBack
)

var stateNames = [...]string{"idle", "pulling", "routing", "committing", "committed", "rolled_back"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// Txn is an upstream transaction scope.
type Txn interface {
	Take(ctx context.Context) ([]byte, bool, error)
	Commit() error
	Rollback() error
	Close() error
}

// Upstream opens transaction scopes.
type Upstream interface {
	Begin() (Txn, error)
}

type channelUpstream struct{ ch *upstream.Channel }

func (u channelUpstream) Begin() (Txn, error) {
	tx, err := u.ch.Begin()
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// FromChannel adapts an in-memory upstream channel.
func FromChannel(ch *upstream.Channel) Upstream { return channelUpstream{ch: ch} }

// Router resolves table names. *registry.Registry satisfies it.
type Router interface {
	Lookup(table string) (*registry.Entry, bool)
}

// TxBeginner starts store transactions. storage.Store satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (storage.Tx, error)
}

// Stats counts what happened to records in one cycle.
type Stats struct {
	Taken        int64
	Rejected     int64
	UnknownTable int64
	Malformed    int64
	Inserted     int64
}

// Config configures a Coordinator.
type Config struct {
	BatchSize int
	Job       string
	Logger    *slog.Logger
}

// Coordinator runs one cycle at a time. Process must not be called
// concurrently; State may be read from any goroutine.
type Coordinator struct {
	upstream Upstream
	decoder  *record.Decoder
	router   Router
	store    TxBeginner
	acc      *batch.Accumulator

	batchSize int
	job       string
	logger    *slog.Logger

	state atomic.Int32
	last  Stats
}

// NewCoordinator wires a coordinator.
func NewCoordinator(up Upstream, dec *record.Decoder, router Router, store TxBeginner, cfg Config) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if dec == nil {
		dec = &record.Decoder{}
	}
	return &Coordinator{
		upstream:  up,
		decoder:   dec,
		router:    router,
		store:     store,
		acc:       batch.NewAccumulator(),
		batchSize: cfg.BatchSize,
		job:       cfg.Job,
		logger:    cfg.Logger.With("component", "cycle"),
	}
}

// State returns the current state.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) { c.state.Store(int32(s)) }

// LastStats returns the counters of the most recent cycle.
func (c *Coordinator) LastStats() Stats { return c.last }

// Process runs one cycle to COMMITTED or ROLLED_BACK.
//
// Up to BatchSize records are pulled; an empty pull ends the loop early with
// Backoff. Records that fail to decode, name an unknown table, or fail arity
// or type checks are dropped and counted. If any table received rows they
// are flushed and the store transaction committed; the upstream transaction
// is committed only after that. Any store failure rolls back both sides and
// returns an error wrapping ErrStoreCommit.
func (c *Coordinator) Process(ctx context.Context) (Status, error) {
	start := time.Now()
	st := Stats{}
	c.acc.Reset()

	c.setState(Pulling)
	utx, err := c.upstream.Begin()
	if err != nil {
		c.setState(RolledBack)
		c.finish(st, metrics.StatusFailed, start)
		return Backoff, fmt.Errorf("begin upstream transaction: %w", err)
	}
	defer func() {
		if err := utx.Close(); err != nil {
			c.logger.Warn("close upstream transaction", "err", err)
		}
	}()

	status := Ready
	for i := 0; i < c.batchSize; i++ {
		c.setState(Pulling)
		raw, ok, err := utx.Take(ctx)
		if err != nil {
			return c.abort(ctx, utx, nil, &st, start, fmt.Errorf("take record: %w", err))
		}
		if !ok {
			status = Backoff
			break
		}
		st.Taken++
		c.setState(Routing)
		c.route(raw, &st)
	}

	c.setState(Committing)
	if dirty := c.acc.Dirty(); len(dirty) > 0 {
		stx, err := c.store.Begin(ctx)
		if err != nil {
			return c.abort(ctx, utx, nil, &st, start, fmt.Errorf("%w: begin: %w", ErrStoreCommit, err))
		}
		var inserted int64
		for _, table := range dirty {
			n, err := c.acc.Flush(ctx, stx, table)
			if err != nil {
				return c.abort(ctx, utx, stx, &st, start, fmt.Errorf("%w: %w", ErrStoreCommit, err))
			}
			inserted += n
		}
		if err := stx.Commit(ctx); err != nil {
			return c.abort(ctx, utx, stx, &st, start, fmt.Errorf("%w: %w", ErrStoreCommit, err))
		}
		st.Inserted = inserted
	}

	if err := utx.Commit(); err != nil {
		// The rows are durable; the records will be delivered again.
		c.setState(RolledBack)
		c.finish(st, metrics.StatusFailed, start)
		return Backoff, fmt.Errorf("commit upstream transaction after store commit: %w", err)
	}

	c.setState(Committed)
	label := metrics.StatusReady
	if status == Backoff {
		label = metrics.StatusBackoff
	}
	c.finish(st, label, start)
	return status, nil
}

func (c *Coordinator) route(raw []byte, st *Stats) {
	routed, err := c.decoder.Decode(raw)
	if err != nil {
		st.Rejected++
		c.logger.Debug("record rejected", "err", err)
		return
	}

	entry, ok := c.acc.Entry(routed.Table)
	if !ok {
		entry, ok = c.router.Lookup(routed.Table)
		if !ok {
			st.UnknownTable++
			c.logger.Debug("unknown table", "table", routed.Table)
			return
		}
	}

	row, err := entry.Schema.BindRow(routed.Fields)
	if err != nil {
		st.Malformed++
		c.logger.Debug("row dropped", "table", routed.Table, "err", err)
		return
	}
	c.acc.BeginTableIfAbsent(entry)
	c.acc.AddRow(routed.Table, row)
}

// abort rolls back the store transaction (if any) and the upstream
// transaction. Rollbacks run even when ctx is done.
func (c *Coordinator) abort(ctx context.Context, utx Txn, stx storage.Tx, st *Stats, start time.Time, cause error) (Status, error) {
	if stx != nil {
		if err := stx.Rollback(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("store rollback", "err", err)
		}
	}
	if err := utx.Rollback(); err != nil {
		c.logger.Warn("upstream rollback", "err", err)
	}
	c.setState(RolledBack)
	st.Inserted = 0
	c.finish(*st, metrics.StatusFailed, start)
	c.logger.Error("cycle rolled back", "err", cause, "taken", st.Taken)
	return Backoff, cause
}

func (c *Coordinator) finish(st Stats, status string, start time.Time) {
	c.last = st
	d := time.Since(start)

	metrics.RecordCycle(c.job, status, d)
	metrics.RecordRecords(c.job, metrics.KindTaken, st.Taken)
	metrics.RecordRecords(c.job, metrics.KindRejected, st.Rejected)
	metrics.RecordRecords(c.job, metrics.KindUnknown, st.UnknownTable)
	metrics.RecordRecords(c.job, metrics.KindMalformed, st.Malformed)
	metrics.RecordRecords(c.job, metrics.KindInserted, st.Inserted)

	level := slog.LevelInfo
	if st.Taken == 0 {
		level = slog.LevelDebug
	}
	c.logger.Log(context.Background(), level, "cycle finished",
		"status", status,
		"taken", st.Taken,
		"inserted", st.Inserted,
		"rejected", st.Rejected,
		"unknown_table", st.UnknownTable,
		"malformed", st.Malformed,
		"took", d,
	)
}
