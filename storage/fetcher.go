// Package storage retrieves cached media objects from durable storage.
// A storage pointer is either an s3://bucket/key URI or a plain HTTP(S)
// URL, which covers both S3-compatible stores and hosted providers that
// expose signed links.
package storage

import (
	"context"
	"io"
	"net/url"

	"github.com/teranos/smartcache/errors"
)

// Fetcher opens a storage pointer for streaming.
// The returned size is -1 when the backend does not report one.
type Fetcher interface {
	Open(ctx context.Context, pointer string) (io.ReadCloser, int64, error)
}

// Resolver picks a fetcher by pointer scheme
type Resolver struct {
	s3   Fetcher
	http Fetcher
}

// NewResolver creates a resolver over the given backends.
// Either backend may be nil when not configured.
func NewResolver(s3, http Fetcher) *Resolver {
	return &Resolver{s3: s3, http: http}
}

// Open dispatches to the fetcher matching the pointer's scheme
func (r *Resolver) Open(ctx context.Context, pointer string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(pointer)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "invalid storage pointer %q", pointer)
	}

	switch u.Scheme {
	case "s3":
		if r.s3 == nil {
			return nil, 0, errors.Newf("no s3 backend configured for %q", pointer)
		}
		return r.s3.Open(ctx, pointer)
	case "http", "https":
		if r.http == nil {
			return nil, 0, errors.Newf("no http backend configured for %q", pointer)
		}
		return r.http.Open(ctx, pointer)
	default:
		return nil, 0, errors.Newf("unsupported storage scheme %q in %q", u.Scheme, pointer)
	}
}
