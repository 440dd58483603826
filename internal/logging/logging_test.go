package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_JSONFormatAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(&buf, "warn", "json")
	l.Info("hidden")
	l.Warn("shown", "table", "orders")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "orders", rec["table"])
}

func TestNew_TextDefault(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, "", "").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestFromContext_RequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := New(&buf, "info", "text")
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")

	FromContext(ctx, base).Info("with id")
	FromContext(context.Background(), base).Info("without id")

	out := buf.String()
	assert.Contains(t, out, "request_id=req-7")
	assert.Equal(t, 1, strings.Count(out, "request_id="))
}
