package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestIngestService(docs *MockDocumentRepository, blobs *MockBlobStore, jobs *MockJobRepository, idx *MockVectorIndex) (*IngestService, *testTxRunner) {
	tx := &testTxRunner{repos: &testTxRepos{documents: docs, jobs: jobs}}
	s := NewIngestService(tx, docs, blobs, idx)
	s.uuidGen = NewMockUUIDGenerator("job-1")
	s.now = func() time.Time { return fixedNow }
	return s, tx
}

func TestIngestService_Submit(t *testing.T) {
	ctx := context.Background()
	raw := []byte("Apixaban lowers stroke risk in atrial fibrillation.")
	id := domain.ContentHash(raw)
	published := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("stores blob then creates document and job", func(t *testing.T) {
		docs, blobs, jobs := new(MockDocumentRepository), new(MockBlobStore), new(MockJobRepository)
		s, tx := newTestIngestService(docs, blobs, jobs, new(MockVectorIndex))

		docs.On("GetByID", ctx, id).Return(nil, domain.ErrDocumentNotFound).Once()
		blobs.On("Put", ctx, id, raw, "text/plain").Return(nil)
		docs.On("Create", ctx, mock.MatchedBy(func(d *domain.Document) bool {
			return d.ID == id && d.ContentHash == id &&
				d.Status == domain.DocumentStatusQueued &&
				d.SourceURI == "https://pubmed.example/1" &&
				d.Category == "cardiology" &&
				d.PublishedAt.Equal(published) &&
				d.CreatedAt.Equal(fixedNow)
		})).Return(nil)
		jobs.On("Enqueue", ctx, mock.MatchedBy(func(j *domain.IngestionJob) bool {
			return j.ID == "job-1" && j.DocumentID == id && j.State == domain.JobStateQueued
		})).Return(nil)

		result, err := s.Submit(ctx, SubmitInput{
			Raw:         raw,
			SourceURI:   " https://pubmed.example/1 ",
			Title:       "AF anticoagulation",
			Category:    "cardiology",
			ContentType: "text/plain",
			PublishedAt: &published,
		})

		require.NoError(t, err)
		assert.Equal(t, &SubmitResult{DocumentID: id, Status: domain.DocumentStatusQueued, Created: true}, result)
		assert.True(t, tx.called)
		docs.AssertExpectations(t)
		blobs.AssertExpectations(t)
		jobs.AssertExpectations(t)
	})

	t.Run("returns existing document for identical bytes", func(t *testing.T) {
		docs, blobs, jobs := new(MockDocumentRepository), new(MockBlobStore), new(MockJobRepository)
		s, tx := newTestIngestService(docs, blobs, jobs, new(MockVectorIndex))

		docs.On("GetByID", ctx, id).Return(&domain.Document{ID: id, Status: domain.DocumentStatusIndexed}, nil)

		result, err := s.Submit(ctx, SubmitInput{Raw: raw, SourceURI: "x", Category: "cardiology"})

		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, domain.DocumentStatusIndexed, result.Status)
		assert.False(t, tx.called)
		blobs.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lost race with identical submission", func(t *testing.T) {
		docs, blobs, jobs := new(MockDocumentRepository), new(MockBlobStore), new(MockJobRepository)
		s, _ := newTestIngestService(docs, blobs, jobs, new(MockVectorIndex))

		docs.On("GetByID", ctx, id).Return(nil, domain.ErrDocumentNotFound).Once()
		blobs.On("Put", ctx, id, raw, "").Return(nil)
		docs.On("Create", ctx, mock.Anything).Return(domain.ErrDocumentAlreadyExists)
		docs.On("GetByID", ctx, id).Return(&domain.Document{ID: id, Status: domain.DocumentStatusProcessing}, nil).Once()

		result, err := s.Submit(ctx, SubmitInput{Raw: raw, SourceURI: "x", Category: "cardiology"})

		require.NoError(t, err)
		assert.False(t, result.Created)
		assert.Equal(t, domain.DocumentStatusProcessing, result.Status)
		jobs.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("validation", func(t *testing.T) {
		s, _ := newTestIngestService(new(MockDocumentRepository), new(MockBlobStore), new(MockJobRepository), new(MockVectorIndex))

		_, err := s.Submit(ctx, SubmitInput{SourceURI: "x", Category: "c"})
		assert.ErrorIs(t, err, domain.ErrEmptyDocument)

		_, err = s.Submit(ctx, SubmitInput{Raw: raw, Category: "c"})
		assert.ErrorIs(t, err, domain.ErrMissingRequiredField)

		_, err = s.Submit(ctx, SubmitInput{Raw: raw, SourceURI: "x", Category: "  "})
		assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
	})

	t.Run("blob store failure queues nothing", func(t *testing.T) {
		docs, blobs, jobs := new(MockDocumentRepository), new(MockBlobStore), new(MockJobRepository)
		s, tx := newTestIngestService(docs, blobs, jobs, new(MockVectorIndex))

		docs.On("GetByID", ctx, id).Return(nil, domain.ErrDocumentNotFound)
		blobs.On("Put", ctx, id, raw, "").Return(errors.New("bucket missing"))

		_, err := s.Submit(ctx, SubmitInput{Raw: raw, SourceURI: "x", Category: "cardiology"})

		assert.ErrorContains(t, err, "failed to store raw document")
		assert.False(t, tx.called)
	})
}

func TestIngestService_Reingest(t *testing.T) {
	ctx := context.Background()

	t.Run("resets, enqueues and hides old entries", func(t *testing.T) {
		docs, jobs, idx := new(MockDocumentRepository), new(MockJobRepository), new(MockVectorIndex)
		s, _ := newTestIngestService(docs, new(MockBlobStore), jobs, idx)

		docs.On("GetByID", ctx, "doc-1").Return(&domain.Document{ID: "doc-1", Status: domain.DocumentStatusIndexed}, nil)
		docs.On("Reset", ctx, "doc-1").Return(nil)
		jobs.On("Enqueue", ctx, mock.AnythingOfType("*domain.IngestionJob")).Return(nil)
		idx.On("Deactivate", "doc-1").Return(4)

		job, err := s.Reingest(ctx, "doc-1")

		require.NoError(t, err)
		assert.Equal(t, "job-1", job.ID)
		idx.AssertExpectations(t)
	})

	t.Run("already queued leaves index untouched", func(t *testing.T) {
		docs, jobs, idx := new(MockDocumentRepository), new(MockJobRepository), new(MockVectorIndex)
		s, _ := newTestIngestService(docs, new(MockBlobStore), jobs, idx)

		docs.On("GetByID", ctx, "doc-1").Return(&domain.Document{ID: "doc-1"}, nil)
		docs.On("Reset", ctx, "doc-1").Return(nil)
		jobs.On("Enqueue", ctx, mock.Anything).Return(domain.ErrJobAlreadyQueued)

		_, err := s.Reingest(ctx, "doc-1")

		assert.ErrorIs(t, err, domain.ErrJobAlreadyQueued)
		idx.AssertNotCalled(t, "Deactivate", mock.Anything)
	})

	t.Run("unknown document", func(t *testing.T) {
		docs := new(MockDocumentRepository)
		s, _ := newTestIngestService(docs, new(MockBlobStore), new(MockJobRepository), new(MockVectorIndex))
		docs.On("GetByID", ctx, "missing").Return(nil, domain.ErrDocumentNotFound)

		_, err := s.Reingest(ctx, "missing")

		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})
}
