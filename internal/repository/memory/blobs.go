package memory

import (
	"context"
	"slices"

	"github.com/cloo-solutions/medindex/internal/domain"
)

// BlobStore is the in-memory service.BlobStore.
type BlobStore struct {
	view
}

func (b *BlobStore) Put(_ context.Context, documentID string, raw []byte, contentType string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.data().blobs[documentID] = blob{raw: slices.Clone(raw), contentType: contentType}
	return nil
}

func (b *BlobStore) Get(_ context.Context, documentID string) ([]byte, string, error) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	v, ok := b.data().blobs[documentID]
	if !ok {
		return nil, "", domain.ErrBlobNotFound
	}
	return slices.Clone(v.raw), v.contentType, nil
}

func (b *BlobStore) Delete(_ context.Context, documentID string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	delete(b.data().blobs, documentID)
	return nil
}
