package storage

import (
	"context"
	"errors"
	"path"

	"github.com/cloo-solutions/medindex/internal/domain"
)

const documentPrefix = "documents"

// BlobStore keeps raw document bytes in an S3 bucket, one object per document.
type BlobStore struct {
	client *S3Client
}

func NewBlobStore(client *S3Client) *BlobStore {
	return &BlobStore{client: client}
}

// DocumentKey returns the object key of a document's raw bytes
func DocumentKey(documentID string) string {
	return path.Join(documentPrefix, documentID)
}

func (b *BlobStore) Put(ctx context.Context, documentID string, raw []byte, contentType string) error {
	return b.client.PutObject(ctx, DocumentKey(documentID), raw, contentType)
}

func (b *BlobStore) Get(ctx context.Context, documentID string) ([]byte, string, error) {
	raw, meta, err := b.client.GetObject(ctx, DocumentKey(documentID))
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, "", domain.ErrBlobNotFound
		}
		return nil, "", err
	}
	return raw, meta.ContentType, nil
}

func (b *BlobStore) Delete(ctx context.Context, documentID string) error {
	return b.client.DeleteObject(ctx, DocumentKey(documentID))
}

// DownloadURL returns a presigned URL for the raw document
func (b *BlobStore) DownloadURL(ctx context.Context, documentID string) (string, error) {
	if _, err := b.client.HeadObject(ctx, DocumentKey(documentID)); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return "", domain.ErrBlobNotFound
		}
		return "", err
	}
	return b.client.GenerateDownloadURL(ctx, DocumentKey(documentID))
}
