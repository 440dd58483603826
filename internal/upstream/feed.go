package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"tablesink/internal/datasource"
	"tablesink/internal/metrics"
)

// MaxLineSize caps a single record read by Feed. Longer lines are skipped
// and counted as rejected.
const MaxLineSize = 1 << 20

// Feed reads newline-delimited records from src and puts each non-empty line
// on ch until the source is exhausted or ctx is cancelled. It returns the
// number of records queued. job labels the rejected-record counter.
func Feed(ctx context.Context, src datasource.Source, ch *Channel, job string, logger *slog.Logger) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("open upstream source: %w", err)
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 64*1024)
	var (
		n, skipped int64
		buf        []byte
	)
	for lineNo := int64(1); ; lineNo++ {
		line, oversized, rerr := readLine(br, buf[:0])
		buf = line
		switch {
		case oversized:
			skipped++
			metrics.RecordRecords(job, metrics.KindRejected, 1)
			logger.Warn("record exceeds max line size; skipped",
				"component", "feed", "line", lineNo, "max", MaxLineSize)
		case len(line) > 0:
			if err := ch.Put(ctx, line); err != nil {
				return n, fmt.Errorf("queue record %d: %w", n+1, err)
			}
			n++
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return n, fmt.Errorf("read upstream source: %w", rerr)
		}
	}
	logger.Info("upstream source drained", "component", "feed", "records", n, "skipped", skipped)
	return n, nil
}

// readLine appends the next line to buf without its line ending. A line
// longer than MaxLineSize is consumed and discarded, and reported as
// oversized. The error is io.EOF once the source is exhausted.
func readLine(br *bufio.Reader, buf []byte) ([]byte, bool, error) {
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			// Room for a trailing "\r\n".
			if len(buf)+len(chunk) > MaxLineSize+2 {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		buf = bytes.TrimSuffix(buf, []byte("\n"))
		buf = bytes.TrimSuffix(buf, []byte("\r"))
		if len(buf) > MaxLineSize {
			oversized = true
			buf = buf[:0]
		}
		return buf, oversized, err
	}
}
