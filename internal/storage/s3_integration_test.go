//go:build integration

package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, bucket string) *S3Client {
	t.Helper()
	ctx := context.Background()

	container := testutil.NewRustFSContainer(ctx, t)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        container.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          bucket,
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	return client
}

func TestBlobStoreIntegration(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore(newTestClient(t, "test-documents"))

	raw := []byte("Metformin is first-line therapy for type 2 diabetes.")
	id := domain.ContentHash(raw)

	t.Run("missing blob", func(t *testing.T) {
		_, _, err := store.Get(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrBlobNotFound))

		_, err = store.DownloadURL(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrBlobNotFound))
	})

	t.Run("put get delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, id, raw, "text/plain"))

		got, contentType, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
		assert.Equal(t, "text/plain", contentType)

		url, err := store.DownloadURL(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, url, DocumentKey(id))

		require.NoError(t, store.Delete(ctx, id))
		_, _, err = store.Get(ctx, id)
		assert.True(t, errors.Is(err, domain.ErrBlobNotFound))
	})
}

func TestS3ClientIntegration_ListObjects(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, "test-feed")

	require.NoError(t, client.PutObject(ctx, "cardiology/a.txt", []byte("a"), "text/plain"))
	require.NoError(t, client.PutObject(ctx, "cardiology/b.txt", []byte("b"), "text/plain"))
	require.NoError(t, client.PutObject(ctx, "oncology/c.txt", []byte("c"), "text/plain"))

	objects, err := client.ListObjects(ctx, "cardiology/", time.Time{})
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "cardiology/a.txt", objects[0].Key)
	assert.Equal(t, int64(1), objects[0].ContentLength)

	objects, err = client.ListObjects(ctx, "cardiology/", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, objects)
}
