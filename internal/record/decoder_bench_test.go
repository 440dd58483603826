package record

import (
	"testing"

	"golang.org/x/text/encoding/charmap"
)

// Run with:
//
//	go test -run=^$ -bench ^BenchmarkDecode -benchmem ./internal/record
func BenchmarkDecode_UTF8(b *testing.B) {
	d := &Decoder{}
	raw := []byte("fl-table:orders,12345,Praha 4,2024-05-01,true,19.99\r\n")
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	for i := 0; i < b.N; i++ {
		if _, err := d.Decode(raw); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode_Windows1250(b *testing.B) {
	d := &Decoder{Encoding: charmap.Windows1250}
	raw, err := charmap.Windows1250.NewEncoder().Bytes([]byte("fl-table:orders,12345,Plzeň,Žižkov\n"))
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	for i := 0; i < b.N; i++ {
		if _, err := d.Decode(raw); err != nil {
			b.Fatal(err)
		}
	}
}
