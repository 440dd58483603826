package datasource

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesink/internal/datasource/file"
	"tablesink/internal/datasource/httpds"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	src, err := Resolve("https://config.local/tables.yaml", nil)
	require.NoError(t, err)
	assert.IsType(t, &httpds.Source{}, src)

	src, err = Resolve("/etc/tablesink/tables.yaml", nil)
	require.NoError(t, err)
	assert.IsType(t, &file.Local{}, src)

	src, err = Resolve("-", nil)
	require.NoError(t, err)
	assert.Equal(t, file.Stdin, src.(*file.Local).Path())

	_, err = Resolve("  ", nil)
	assert.Error(t, err)
}

func TestIsURL(t *testing.T) {
	t.Parallel()

	assert.True(t, IsURL("http://h/x"))
	assert.True(t, IsURL("HTTPS://h/x"))
	assert.False(t, IsURL("ftp://h/x"))
	assert.False(t, IsURL("tables.yaml"))
	assert.False(t, IsURL("C:/tables.yaml"))
	assert.False(t, IsURL("http:///nohost"))
}

func TestReadAll(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "doc")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))

	data, err := ReadAll(context.Background(), file.NewLocal(p), 10)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	_, err = ReadAll(context.Background(), file.NewLocal(p), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 9 bytes")
}

func TestReadAll_HTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, strings.NewReader("tables: []"))
	}))
	defer srv.Close()

	src, err := Resolve(srv.URL+"/tables.yaml", httpds.NewClient(httpds.Config{}))
	require.NoError(t, err)
	data, err := ReadAll(context.Background(), src, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "tables: []", string(data))
}
