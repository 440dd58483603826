// Package registry holds the live mapping from table name to schema and
// prepared write handle.
//
// The mapping is published as immutable generations behind an atomic
// pointer. Lookups are a single pointer load and never block; Reload builds
// the next generation completely (fetch, parse, prepare every handle) before
// swapping it in, so a reader sees either the old table set or the new one and
// never a mix. A failed reload leaves the current generation untouched.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"tablesink/internal/datasource"
	"tablesink/internal/schema"
	"tablesink/internal/storage"
)

var (
	// ErrSourceUnavailable means the schema source could not be fetched.
	ErrSourceUnavailable = errors.New("schema source unavailable")
	// ErrInvalidSchema means the fetched document did not parse or one of
	// its tables could not be prepared against the store.
	ErrInvalidSchema = errors.New("invalid schema document")
)

// ReloadError describes a failed reload. It matches one of the sentinel
// errors above and the underlying cause.
type ReloadError struct {
	Kind error
	Err  error
}

func (e *ReloadError) Error() string   { return fmt.Sprintf("reload: %v: %v", e.Kind, e.Err) }
func (e *ReloadError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Fetcher returns the raw schema source document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

// MaxDocumentSize caps schema documents read by SourceFetcher.
const MaxDocumentSize = 4 << 20

// SourceFetcher reads the whole document from src on each fetch.
func SourceFetcher(src datasource.Source) Fetcher {
	return FetcherFunc(func(ctx context.Context) ([]byte, error) {
		return datasource.ReadAll(ctx, src, MaxDocumentSize)
	})
}

// Preparer opens write handles. storage.Store satisfies it.
type Preparer interface {
	Prepare(ctx context.Context, t *schema.TableSchema) (storage.WriteHandle, error)
}

// Entry is one routable table.
type Entry struct {
	Schema *schema.TableSchema
	Handle storage.WriteHandle
}

// Generation is an immutable snapshot of the registry.
type Generation struct {
	ID          uuid.UUID
	Fingerprint uint64
	LoadedAt    time.Time

	tables map[string]*Entry
}

// Lookup returns the entry for table.
func (g *Generation) Lookup(table string) (*Entry, bool) {
	e, ok := g.tables[table]
	return e, ok
}

// Len is the number of tables.
func (g *Generation) Len() int { return len(g.tables) }

// Schemas returns the generation's table schemas sorted by name.
func (g *Generation) Schemas() []*schema.TableSchema {
	out := make([]*schema.TableSchema, 0, len(g.tables))
	for _, e := range g.tables {
		out = append(out, e.Schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry is safe for concurrent Lookup during Reload.
type Registry struct {
	fetcher  Fetcher
	preparer Preparer
	logger   *slog.Logger
	now      func() time.Time
	// refresh re-prepares even when the document is unchanged.
	refresh bool

	mu      sync.Mutex // serializes Reload and Close
	current atomic.Pointer[Generation]
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithClock sets the time source used for LoadedAt.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithRefreshUnchanged makes every Reload build a new generation, even from
// an unchanged document. Use it when Prepare has side effects that must be
// repeated, such as creating destination tables that may have been dropped.
func WithRefreshUnchanged() Option { return func(r *Registry) { r.refresh = true } }

// New returns a registry holding an empty generation.
func New(fetcher Fetcher, preparer Preparer, opts ...Option) *Registry {
	r := &Registry{
		fetcher:  fetcher,
		preparer: preparer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.With("component", "registry")
	r.current.Store(&Generation{tables: map[string]*Entry{}})
	return r
}

// Current returns the live generation.
func (r *Registry) Current() *Generation { return r.current.Load() }

// Lookup returns the live entry for table.
func (r *Registry) Lookup(table string) (*Entry, bool) {
	return r.current.Load().Lookup(table)
}

// Tables returns the live table names, sorted.
func (r *Registry) Tables() []string {
	schemas := r.current.Load().Schemas()
	out := make([]string, len(schemas))
	for i, s := range schemas {
		out[i] = s.Name
	}
	return out
}

// Reload fetches and parses the schema source, prepares one write handle per
// table, then atomically replaces the live generation and closes the previous
// generation's handles. On any failure the live generation is kept and a
// *ReloadError is returned. A document identical to the live generation's is
// a no-op unless WithRefreshUnchanged is set.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return r.fail(ErrSourceUnavailable, err)
	}

	fp := xxh3.Hash(data)
	cur := r.current.Load()
	if !r.refresh && cur.Len() > 0 && cur.Fingerprint == fp {
		r.logger.Debug("schema unchanged", "generation", cur.ID, "fingerprint", fp)
		return nil
	}

	tables, err := schema.ParseDocument(data)
	if err != nil {
		return r.fail(ErrInvalidSchema, err)
	}

	next := make(map[string]*Entry, len(tables))
	for _, t := range tables {
		h, err := r.preparer.Prepare(ctx, t)
		if err != nil {
			r.closeEntries(next)
			return r.fail(ErrInvalidSchema, fmt.Errorf("prepare %s: %w", t.Name, err))
		}
		next[t.Name] = &Entry{Schema: t, Handle: h}
	}

	gen := &Generation{
		ID:          uuid.New(),
		Fingerprint: fp,
		LoadedAt:    r.now(),
		tables:      next,
	}
	old := r.current.Swap(gen)
	r.closeEntries(old.tables)

	r.logger.Info("schema generation loaded",
		"generation", gen.ID,
		"previous", old.ID,
		"tables", gen.Len(),
		"fingerprint", fp,
	)
	return nil
}

// Close closes the live generation's handles and leaves the registry empty.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Swap(&Generation{tables: map[string]*Entry{}})
	var errs []error
	for _, e := range old.tables {
		if err := e.Handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.Schema.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) fail(kind, err error) error {
	rerr := &ReloadError{Kind: kind, Err: err}
	r.logger.Warn("schema reload failed; keeping current generation",
		"generation", r.current.Load().ID,
		"err", rerr,
	)
	return rerr
}

func (r *Registry) closeEntries(m map[string]*Entry) {
	for name, e := range m {
		if err := e.Handle.Close(); err != nil {
			r.logger.Warn("close write handle", "table", name, "err", err)
		}
	}
}
