package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesink/internal/registry"
	"tablesink/internal/schema"
	"tablesink/internal/storage"
)

type stubHandle struct{ table string }

func (h stubHandle) Table() string { return h.table }
func (h stubHandle) Close() error  { return nil }

type recordingTx struct {
	fail  error
	execs map[string][][]any
}

func (tx *recordingTx) ExecBatch(_ context.Context, h storage.WriteHandle, rows [][]any) (int64, error) {
	if tx.fail != nil {
		return 0, tx.fail
	}
	if tx.execs == nil {
		tx.execs = map[string][][]any{}
	}
	cp := append([][]any(nil), rows...)
	tx.execs[h.Table()] = append(tx.execs[h.Table()], cp...)
	return int64(len(rows)), nil
}

func (tx *recordingTx) Commit(context.Context) error   { return nil }
func (tx *recordingTx) Rollback(context.Context) error { return nil }

func entry(t *testing.T, name string) *registry.Entry {
	t.Helper()
	ts, err := schema.New(name, []schema.ColumnSpec{{Name: "a", Kind: schema.KindString}})
	require.NoError(t, err)
	return &registry.Entry{Schema: ts, Handle: stubHandle{table: name}}
}

func TestAccumulator_DirtyOrderAndFlush(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Reset()

	ev, us := entry(t, "events"), entry(t, "users")
	a.BeginTableIfAbsent(us)
	a.AddRow("users", []any{"u1"})
	a.BeginTableIfAbsent(ev)
	a.AddRow("events", []any{"e1"})
	a.BeginTableIfAbsent(us)
	a.AddRow("users", []any{"u2"})

	assert.Equal(t, []string{"users", "events"}, a.Dirty())
	assert.Equal(t, 2, a.Len("users"))
	assert.Equal(t, 1, a.Len("events"))

	tx := &recordingTx{}
	for _, name := range a.Dirty() {
		_, err := a.Flush(context.Background(), tx, name)
		require.NoError(t, err)
	}
	assert.Equal(t, [][]any{{"u1"}, {"u2"}}, tx.execs["users"])
	assert.Equal(t, [][]any{{"e1"}}, tx.execs["events"])
	assert.Zero(t, a.Len("users"))
	assert.Zero(t, a.Len("events"))
}

func TestAccumulator_StaleRowsClearedOnFirstTouch(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	e := entry(t, "t")

	// Cycle 1 is aborted before flushing.
	a.Reset()
	a.BeginTableIfAbsent(e)
	a.AddRow("t", []any{"stale"})
	require.Equal(t, 1, a.Len("t"))

	// Cycle 2 touches the table again.
	a.Reset()
	assert.Empty(t, a.Dirty())
	a.BeginTableIfAbsent(e)
	assert.Zero(t, a.Len("t"))
	a.AddRow("t", []any{"fresh"})

	tx := &recordingTx{}
	n, err := a.Flush(context.Background(), tx, "t")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, [][]any{{"fresh"}}, tx.execs["t"])
}

func TestAccumulator_EntryPinnedForCycle(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Reset()
	first := entry(t, "t")
	second := entry(t, "t")

	a.BeginTableIfAbsent(first)
	a.BeginTableIfAbsent(second)
	got, ok := a.Entry("t")
	require.True(t, ok)
	assert.Same(t, first, got)

	a.Reset()
	_, ok = a.Entry("t")
	assert.False(t, ok)
}

func TestAccumulator_FlushFailureKeepsRows(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Reset()
	a.BeginTableIfAbsent(entry(t, "t"))
	a.AddRow("t", []any{"x"})

	boom := errors.New("boom")
	_, err := a.Flush(context.Background(), &recordingTx{fail: boom}, "t")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Len("t"))
}

func TestAccumulator_FlushEmptyIsNoop(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Reset()
	tx := &recordingTx{fail: errors.New("must not be called")}

	n, err := a.Flush(context.Background(), tx, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	a.BeginTableIfAbsent(entry(t, "t"))
	n, err = a.Flush(context.Background(), tx, "t")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAccumulator_AddRowWithoutBeginPanics(t *testing.T) {
	t.Parallel()

	a := NewAccumulator()
	a.Reset()
	assert.Panics(t, func() { a.AddRow("t", []any{"x"}) })
}
