package cycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tablesink/internal/record"
	"tablesink/internal/registry"
	"tablesink/internal/storage/sqlite"
	"tablesink/internal/upstream"
)

// BenchmarkProcess_FullCycle measures one committed cycle of 100 records
// against an in-memory SQLite store: take, decode, coerce, batch insert and
// both commits.
//
//	go test -run=^$ -bench ^BenchmarkProcess_FullCycle$ -benchmem ./internal/cycle
func BenchmarkProcess_FullCycle(b *testing.B) {
	ctx := context.Background()
	store, err := sqlite.NewStore(ctx, ":memory:")
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	if _, err := store.DB().Exec(`CREATE TABLE mysqltest (a TEXT, b INTEGER)`); err != nil {
		b.Fatal(err)
	}
	if _, err := store.DB().Exec(`CREATE TABLE flags (id INTEGER, enabled BOOLEAN)`); err != nil {
		b.Fatal(err)
	}
	reg := registry.New(registry.FetcherFunc(func(context.Context) ([]byte, error) {
		return []byte(mysqltestDoc), nil
	}), store)
	if err := reg.Reload(ctx); err != nil {
		b.Fatal(err)
	}
	defer reg.Close()

	const batch = 100
	recs := make([][]byte, batch)
	for i := range recs {
		recs[i] = []byte(fmt.Sprintf("fl-table:mysqltest,row-%d,%d", i, i))
	}

	ch := upstream.NewChannel(batch, time.Millisecond)
	c := NewCoordinator(FromChannel(ch), &record.Decoder{}, reg, store, Config{BatchSize: batch, Job: "bench"})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for _, r := range recs {
			if err := ch.Put(ctx, r); err != nil {
				b.Fatal(err)
			}
		}
		b.StartTimer()
		if _, err := c.Process(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
