package blob

import (
	"context"
	"os"
	"path/filepath"

	"github.com/crestline/crestline/internal/apperr"
)

// FilesystemStore implements Store on the local filesystem, rooted at a
// configured directory. Used in dev and in every test in this repo that
// needs a Store without a GCS bucket.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) *FilesystemStore {
	return &FilesystemStore{root: root}
}

func (f *FilesystemStore) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *FilesystemStore) Put(ctx context.Context, key string, data []byte) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return apperr.Wrap(apperr.Internal, "create blob directory", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return apperr.Wrap(apperr.Internal, "write blob", err)
	}
	return nil
}

func (f *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "blob not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "read blob", err)
	}
	return data, nil
}

func (f *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.Internal, "delete blob", err)
	}
	return nil
}
