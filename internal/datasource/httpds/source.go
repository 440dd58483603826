package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// StatusError is returned by Source.Open for a non-2xx final response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpds: GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Source is a datasource backed by a URL.
type Source struct {
	client *Client
	url    string
}

// NewSource binds url to client.
func NewSource(client *Client, url string) *Source {
	return &Source{client: client, url: url}
}

// URL returns the bound URL.
func (s *Source) URL() string { return s.url }

// Open fetches the URL and returns the response body. Any status outside
// 200-299 is a *StatusError.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()
		return nil, &StatusError{URL: s.url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
