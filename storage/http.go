package storage

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
)

// HTTPFetcher streams objects over plain HTTP(S), covering hosted
// providers that expose direct or signed URLs
type HTTPFetcher struct {
	client *http.Client
	log    *zap.SugaredLogger
}

// NewHTTPFetcher creates an HTTP fetcher. The client has no overall
// timeout so large transfers are bounded by the caller's context
// instead of a wall clock.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		log: logger.Named("storage.http"),
	}
}

// Open streams the resource at the given URL
func (f *HTTPFetcher) Open(ctx context.Context, pointer string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pointer, nil)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "invalid download URL %q", pointer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "request failed for %q", pointer)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, errors.Newf("unexpected status %d fetching %q", resp.StatusCode, pointer)
	}

	f.log.Debugw("opened http object", "url", pointer, "size", resp.ContentLength)
	return resp.Body, resp.ContentLength, nil
}
