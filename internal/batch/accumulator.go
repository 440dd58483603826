// Package batch groups decoded rows by destination table for one write
// cycle.
package batch

import (
	"context"
	"fmt"

	"tablesink/internal/registry"
	"tablesink/internal/storage"
)

type pending struct {
	entry *registry.Entry
	rows  [][]any
}

// Accumulator holds per-table pending rows for the current cycle. It is owned
// by a single worker and is not safe for concurrent use.
//
// Buffers outlive cycles so their capacity is reused; a buffer is cleared
// the first time its table is touched in a cycle, so rows left over from an
// aborted cycle are never written.
type Accumulator struct {
	tables map[string]*pending
	dirty  []string
	seen   map[string]struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		tables: make(map[string]*pending),
		seen:   make(map[string]struct{}),
	}
}

// Reset starts a new cycle. Buffers keep their contents until touched.
func (a *Accumulator) Reset() {
	a.dirty = a.dirty[:0]
	clear(a.seen)
}

// BeginTableIfAbsent marks table as touched in this cycle. On the first touch
// the table's buffer is emptied and entry becomes the handle the flush uses,
// so a generation swap mid-cycle does not split one table's batch across two
// handles.
func (a *Accumulator) BeginTableIfAbsent(entry *registry.Entry) {
	name := entry.Schema.Name
	if _, ok := a.seen[name]; ok {
		return
	}
	a.seen[name] = struct{}{}
	a.dirty = append(a.dirty, name)

	p, ok := a.tables[name]
	if !ok {
		p = &pending{}
		a.tables[name] = p
	}
	p.entry = entry
	p.rows = p.rows[:0]
}

// Entry returns the entry recorded for table in this cycle.
func (a *Accumulator) Entry(table string) (*registry.Entry, bool) {
	if _, ok := a.seen[table]; !ok {
		return nil, false
	}
	return a.tables[table].entry, true
}

// AddRow appends a bound row. The table must have been begun this cycle.
func (a *Accumulator) AddRow(table string, row []any) {
	if _, ok := a.seen[table]; !ok {
		panic(fmt.Sprintf("batch: AddRow(%q) before BeginTableIfAbsent", table))
	}
	p := a.tables[table]
	p.rows = append(p.rows, row)
}

// Len returns the number of pending rows for table.
func (a *Accumulator) Len(table string) int {
	if p, ok := a.tables[table]; ok {
		return len(p.rows)
	}
	return 0
}

// Dirty returns the tables touched this cycle in first-touch order.
func (a *Accumulator) Dirty() []string {
	return append([]string(nil), a.dirty...)
}

// Flush executes table's pending rows as one batch through tx and clears the
// buffer on success. An empty buffer is a no-op.
func (a *Accumulator) Flush(ctx context.Context, tx storage.Tx, table string) (int64, error) {
	p, ok := a.tables[table]
	if !ok || p.entry == nil || len(p.rows) == 0 {
		return 0, nil
	}
	n, err := tx.ExecBatch(ctx, p.entry.Handle, p.rows)
	if err != nil {
		return n, fmt.Errorf("flush %s (%d rows): %w", table, len(p.rows), err)
	}
	clear(p.rows)
	p.rows = p.rows[:0]
	return n, nil
}
