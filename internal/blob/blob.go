// Package blob stores and serves the raw uploaded activity files, behind
// one interface with a local-filesystem implementation for dev/tests and a
// Google Cloud Storage implementation for production.
package blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crestline/crestline/internal/apperr"
)

// Store is the blob interface the ingestion worker and the upload handler
// depend on. Implementations must treat Get on a missing key as NotFound.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ActivityObjectKey is the fixed layout spec.md §6 mandates: raw uploaded
// files live at activity/{activity_id}/original.{ext}.
func ActivityObjectKey(activityID uuid.UUID, ext string) string {
	return fmt.Sprintf("activity/%s/original.%s", activityID, ext)
}

// rateLimitedStore wraps a Store with an outbound call budget, so a burst of
// uploads can't starve the worker pool's other blob traffic. Grounded on
// golang.org/x/time/rate's token-bucket Limiter.
type rateLimitedStore struct {
	inner   Store
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a token-bucket limiter allowing up to
// burst calls immediately and ratePerSec steady-state thereafter.
func NewRateLimited(inner Store, ratePerSec float64, burst int) Store {
	return &rateLimitedStore{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

func (r *rateLimitedStore) Put(ctx context.Context, key string, data []byte) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.TransientDependency, "blob rate limit wait", err)
	}
	return r.inner.Put(ctx, key, data)
}

func (r *rateLimitedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.TransientDependency, "blob rate limit wait", err)
	}
	return r.inner.Get(ctx, key)
}

func (r *rateLimitedStore) Delete(ctx context.Context, key string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.TransientDependency, "blob rate limit wait", err)
	}
	return r.inner.Delete(ctx, key)
}

// Open constructs a Store from a URL whose scheme selects the backend:
// file:// for the filesystem implementation, gs:// for Google Cloud
// Storage. The bucket name for gs:// is the URL host; the path is used as
// the filesystem root for file://.
func Open(ctx context.Context, rawURL string) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse blob store url: %w", err)
	}

	switch u.Scheme {
	case "file":
		return NewFilesystemStore(u.Path), nil
	case "gs":
		return newGCSStore(ctx, u.Host)
	default:
		return nil, fmt.Errorf("unsupported blob store scheme %q", u.Scheme)
	}
}
