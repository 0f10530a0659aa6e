package blob

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crestline/crestline/internal/apperr"
)

func TestFilesystemStore_PutGetDelete(t *testing.T) {
	store := NewFilesystemStore(t.TempDir())
	ctx := context.Background()
	key := ActivityObjectKey(uuid.New(), "gpx")

	_, err := store.Get(ctx, key)
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))

	require.NoError(t, store.Put(ctx, key, []byte("<gpx/>")))
	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "<gpx/>", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestFilesystemStore_DeleteMissingIsNoop(t *testing.T) {
	store := NewFilesystemStore(t.TempDir())
	require.NoError(t, store.Delete(context.Background(), "activity/none/original.gpx"))
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "s3://bucket")
	require.Error(t, err)
}

func TestOpen_FileScheme(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), "file://"+dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "k", []byte("v")))
}

func TestNewRateLimited_PassesThroughUnderBurst(t *testing.T) {
	inner := NewFilesystemStore(t.TempDir())
	limited := NewRateLimited(inner, 100, 10)
	require.NoError(t, limited.Put(context.Background(), "k", []byte("v")))
	data, err := limited.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(data))
}
