// Package fetch turns a document origin into plain text sections, one
// fetcher per source kind.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"pagechat/internal/apperr"
	"pagechat/internal/text"
)

const userAgent = "pagechat-ingest/1.0"

// Fetcher extracts the text of one origin. maxPages is the owner's page
// ceiling; fetchers of unpaged sources ignore it. Zero means unlimited.
type Fetcher interface {
	Fetch(ctx context.Context, origin string, maxPages int) ([]text.Section, error)
}

type Registry struct {
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

func (r *Registry) Register(kind string, f Fetcher) {
	r.fetchers[kind] = f
}

func (r *Registry) Fetch(ctx context.Context, kind, origin string, maxPages int) ([]text.Section, error) {
	f, ok := r.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no fetcher for kind %q", apperr.ErrInvalidSourceURL, kind)
	}
	return f.Fetch(ctx, origin, maxPages)
}

// NewHTTPClient is shared by the web and remote-PDF fetchers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// download GETs url and returns at most maxBytes of the body.
func download(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSourceURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned %d", apperr.ErrSourceNotFound, url, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s returned %d", apperr.ErrFetch, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", apperr.ErrFetch, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", apperr.ErrFetch, url, maxBytes)
	}
	return body, nil
}
