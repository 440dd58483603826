// Package datasource opens byte streams by location. A location is either a
// local filesystem path ("-" for standard input) or an http(s) URL; Resolve
// picks the implementation.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"tablesink/internal/datasource/file"
	"tablesink/internal/datasource/httpds"
)

// Source opens a fresh reader on each call.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Resolve returns the Source for location. HTTP locations are fetched with
// client; a nil client gets httpds defaults.
func Resolve(location string, client *httpds.Client) (Source, error) {
	loc := strings.TrimSpace(location)
	if loc == "" {
		return nil, fmt.Errorf("datasource: empty location")
	}
	if IsURL(loc) {
		if client == nil {
			client = httpds.NewClient(httpds.Config{})
		}
		return httpds.NewSource(client, loc), nil
	}
	return file.NewLocal(loc), nil
}

// IsURL reports whether location is an http or https URL.
func IsURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	}
	return false
}

// ReadAll opens src and reads at most limit bytes. A document larger than
// limit is an error rather than being silently truncated.
func ReadAll(ctx context.Context, src Source, limit int64) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("datasource: read: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("datasource: document exceeds %d bytes", limit)
	}
	return data, nil
}
