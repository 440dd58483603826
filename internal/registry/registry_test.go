package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesink/internal/schema"
	"tablesink/internal/storage"
)

type fakeHandle struct {
	table  string
	closed atomic.Bool
}

func (h *fakeHandle) Table() string { return h.table }
func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type fakePreparer struct {
	mu      sync.Mutex
	failOn  string
	handles []*fakeHandle
}

func (p *fakePreparer) Prepare(_ context.Context, t *schema.TableSchema) (storage.WriteHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.Name == p.failOn {
		return nil, fmt.Errorf("no such table %s", t.Name)
	}
	h := &fakeHandle{table: t.Name}
	p.handles = append(p.handles, h)
	return h, nil
}

// docFetcher serves whatever document is currently stored.
type docFetcher struct {
	mu  sync.Mutex
	doc string
	err error
}

func (f *docFetcher) set(doc string, err error) {
	f.mu.Lock()
	f.doc, f.err = doc, err
	f.mu.Unlock()
}

func (f *docFetcher) Fetch(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.doc), nil
}

const docAB = `
tables:
  - name: mysqltest
    columns:
      - {name: a, kind: string}
      - {name: b, kind: long}
`

const docAC = `
tables:
  - name: mysqltest
    columns:
      - {name: a, kind: string}
      - {name: b, kind: long}
  - name: other
    columns:
      - {name: c, kind: int}
`

func TestRegistry_EmptyBeforeReload(t *testing.T) {
	t.Parallel()

	r := New(&docFetcher{doc: docAB}, &fakePreparer{})
	_, ok := r.Lookup("mysqltest")
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, r.Current().ID)
	assert.Zero(t, r.Current().Len())
}

func TestRegistry_ReloadPublishesGeneration(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	r := New(&docFetcher{doc: docAC}, &fakePreparer{}, WithClock(func() time.Time { return now }))
	require.NoError(t, r.Reload(context.Background()))

	gen := r.Current()
	assert.NotEqual(t, uuid.Nil, gen.ID)
	assert.Equal(t, now, gen.LoadedAt)
	assert.Equal(t, 2, gen.Len())

	e, ok := r.Lookup("mysqltest")
	require.True(t, ok)
	assert.Equal(t, "mysqltest", e.Handle.Table())
	assert.Equal(t, []string{"a", "b"}, e.Schema.ColumnNames())

	assert.Equal(t, []string{"mysqltest", "other"}, r.Tables())
	assert.Len(t, gen.Schemas(), 2)
}

func TestRegistry_SwapClosesPreviousHandles(t *testing.T) {
	t.Parallel()

	f := &docFetcher{doc: docAB}
	p := &fakePreparer{}
	r := New(f, p)
	require.NoError(t, r.Reload(context.Background()))
	first := r.Current()
	require.Len(t, p.handles, 1)

	f.set(docAC, nil)
	require.NoError(t, r.Reload(context.Background()))
	second := r.Current()

	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, p.handles[0].closed.Load(), "old handle closed after swap")
	for _, h := range p.handles[1:] {
		assert.False(t, h.closed.Load())
	}
	_, ok := r.Lookup("other")
	assert.True(t, ok)
}

func TestRegistry_UnchangedDocumentKeepsGeneration(t *testing.T) {
	t.Parallel()

	p := &fakePreparer{}
	r := New(&docFetcher{doc: docAB}, p)
	require.NoError(t, r.Reload(context.Background()))
	id := r.Current().ID

	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, id, r.Current().ID)
	assert.Len(t, p.handles, 1, "no handles re-prepared")
}

func TestRegistry_RefreshUnchangedRepreparesTables(t *testing.T) {
	t.Parallel()

	p := &fakePreparer{}
	r := New(&docFetcher{doc: docAB}, p, WithRefreshUnchanged())
	require.NoError(t, r.Reload(context.Background()))
	first := r.Current()

	require.NoError(t, r.Reload(context.Background()))
	second := r.Current()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, p.handles, 2, "table prepared again")
	assert.True(t, p.handles[0].closed.Load())
	assert.False(t, p.handles[1].closed.Load())
}

func TestRegistry_FailedReloadKeepsCurrent(t *testing.T) {
	t.Parallel()

	f := &docFetcher{doc: docAB}
	p := &fakePreparer{}
	r := New(f, p)
	require.NoError(t, r.Reload(context.Background()))
	before := r.Current()

	cases := []struct {
		name string
		doc  string
		err  error
		want error
	}{
		{name: "source_down", err: errors.New("connection refused"), want: ErrSourceUnavailable},
		{name: "bad_document", doc: "tables: [{name: t, columns: [{name: a, kind: decimal}]}]", want: ErrInvalidSchema},
		{name: "empty_document", doc: "", want: ErrInvalidSchema},
	}
	for _, c := range cases {
		f.set(c.doc, c.err)
		err := r.Reload(context.Background())
		require.Error(t, err, c.name)
		assert.ErrorIs(t, err, c.want, c.name)
		var rerr *ReloadError
		assert.ErrorAs(t, err, &rerr, c.name)
		assert.Same(t, before, r.Current(), c.name)
	}

	e, ok := r.Lookup("mysqltest")
	require.True(t, ok)
	assert.False(t, p.handles[0].closed.Load())
	assert.Equal(t, "mysqltest", e.Schema.Name)
}

func TestRegistry_PrepareFailureClosesPartialGeneration(t *testing.T) {
	t.Parallel()

	f := &docFetcher{doc: docAB}
	p := &fakePreparer{}
	r := New(f, p)
	require.NoError(t, r.Reload(context.Background()))
	before := r.Current()

	p.failOn = "other"
	f.set(docAC, nil)
	err := r.Reload(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSchema)
	assert.Same(t, before, r.Current())

	require.Len(t, p.handles, 2)
	assert.False(t, p.handles[0].closed.Load(), "live handle untouched")
	assert.True(t, p.handles[1].closed.Load(), "partial handle released")
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	p := &fakePreparer{}
	r := New(&docFetcher{doc: docAC}, p)
	require.NoError(t, r.Reload(context.Background()))
	require.NoError(t, r.Close())

	for _, h := range p.handles {
		assert.True(t, h.closed.Load())
	}
	_, ok := r.Lookup("mysqltest")
	assert.False(t, ok)
}

func TestRegistry_LookupDuringReload(t *testing.T) {
	t.Parallel()

	f := &docFetcher{doc: docAB}
	r := New(f, &fakePreparer{})
	require.NoError(t, r.Reload(context.Background()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			gen := r.Current()
			// A generation is never observed half-built.
			if gen.Len() == 2 {
				_, ok := gen.Lookup("other")
				assert.True(t, ok)
			}
			_, ok := gen.Lookup("mysqltest")
			assert.True(t, ok)
		}
	}()

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			f.set(docAC, nil)
		} else {
			f.set(docAB, nil)
		}
		require.NoError(t, r.Reload(context.Background()))
	}
	close(stop)
	wg.Wait()
}
