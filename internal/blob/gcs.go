package blob

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/crestline/crestline/internal/apperr"
)

// GCSStore implements Store on a single Google Cloud Storage bucket via
// cloud.google.com/go/storage, with a Delete method and apperr-shaped error
// reporting alongside Put/Get.
type GCSStore struct {
	client *storage.Client
	bucket string
}

func newGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientDependency, "create gcs client", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	wc := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		return apperr.Wrap(apperr.TransientDependency, "write gcs object", err)
	}
	if err := wc.Close(); err != nil {
		return apperr.Wrap(apperr.TransientDependency, "close gcs writer", err)
	}
	return nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, apperr.New(apperr.NotFound, "blob not found")
		}
		return nil, apperr.Wrap(apperr.TransientDependency, "open gcs reader", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientDependency, "read gcs object", err)
	}
	return data, nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return apperr.Wrap(apperr.TransientDependency, "delete gcs object", err)
	}
	return nil
}
