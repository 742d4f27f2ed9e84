package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/pagination"
	"github.com/cloo-solutions/medindex/internal/telemetry"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// DocumentDetail is a document with its derived state.
type DocumentDetail struct {
	Document       *domain.Document
	ChunkCount     int
	FeedbackWeight float64
}

// ListDocumentsInput selects a page of documents.
type ListDocumentsInput struct {
	Status   domain.DocumentStatus
	Category string
	Cursor   string
	Limit    int
}

// DocumentService serves document lookups and lifecycle operations outside
// the ingestion queue.
type DocumentService struct {
	tx       TxRunner
	docs     DocumentRepository
	blobs    BlobStore
	chunks   ChunkRepository
	jobs     JobRepository
	feedback FeedbackRepository
	index    VectorIndex
	now      func() time.Time
}

// NewDocumentService creates a new DocumentService instance
func NewDocumentService(
	tx TxRunner,
	docs DocumentRepository,
	blobs BlobStore,
	chunks ChunkRepository,
	jobs JobRepository,
	feedback FeedbackRepository,
	idx VectorIndex,
) *DocumentService {
	return &DocumentService{
		tx:       tx,
		docs:     docs,
		blobs:    blobs,
		chunks:   chunks,
		jobs:     jobs,
		feedback: feedback,
		index:    idx,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a document with its chunk count and feedback weight.
func (s *DocumentService) Get(ctx context.Context, id string) (*DocumentDetail, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	chunks, err := s.chunks.ListByDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	weight, err := s.feedback.Weight(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback weight: %w", err)
	}
	return &DocumentDetail{Document: doc, ChunkCount: len(chunks), FeedbackWeight: weight}, nil
}

// Chunks returns the stored chunks of a document in ordinal order.
func (s *DocumentService) Chunks(ctx context.Context, id string) ([]domain.Chunk, error) {
	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, id)
}

// List returns a page of documents, newest first.
func (s *DocumentService) List(ctx context.Context, input ListDocumentsInput) (*DocumentPageResult, error) {
	if input.Status != "" && !domain.IsValidDocumentStatus(input.Status) {
		return nil, domain.ErrInvalidDocumentStatus
	}
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	limit := pagination.NormalizeLimit(input.Limit, DefaultListLimit, MaxListLimit)

	return s.docs.List(ctx, DocumentListFilter{Status: input.Status, Category: input.Category}, cursor, limit)
}

// Deactivate hides a document from search without deleting anything.
// Returns the number of index entries deactivated.
func (s *DocumentService) Deactivate(ctx context.Context, id string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Deactivate", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "deactivate",
	})
	defer span.End()

	done := s.index.Publish()
	defer done()

	if err := s.docs.Deactivate(ctx, id, s.now()); err != nil {
		return 0, err
	}
	n := s.index.Deactivate(id)
	log.Printf("admin: document %s deactivated (%d index entries)", id, n)
	return n, nil
}

// Purge physically removes a document with its chunks, embeddings, jobs,
// feedback, raw bytes and index entries.
func (s *DocumentService) Purge(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Purge", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "purge",
	})
	defer span.End()

	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return err
	}

	done := s.index.Publish()
	defer done()

	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Jobs().DeleteByDocument(ctx, id); err != nil {
			return err
		}
		return repos.Documents().Delete(ctx, id)
	})
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("failed to purge document: %w", err)
	}
	s.index.Deactivate(id)

	if err := s.blobs.Delete(ctx, id); err != nil {
		// the rows are gone; an orphaned blob is only wasted space
		log.Printf("admin: failed to delete raw document %s: %v", id, err)
	}
	log.Printf("admin: document %s purged", id)
	return nil
}

// ListDeadLetters returns jobs that exhausted their retries.
func (s *DocumentService) ListDeadLetters(ctx context.Context, limit int) ([]*domain.IngestionJob, error) {
	return s.jobs.ListDeadLetters(ctx, pagination.NormalizeLimit(limit, DefaultListLimit, MaxListLimit))
}

// Redrive returns a dead-lettered job to the queue with a fresh attempt
// budget and resets its document to queued.
func (s *DocumentService) Redrive(ctx context.Context, jobID string) (*domain.IngestionJob, error) {
	var job *domain.IngestionJob
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		var err error
		job, err = repos.Jobs().Redrive(ctx, jobID)
		if err != nil {
			return err
		}
		return repos.Documents().Reset(ctx, job.DocumentID)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("admin: job %s redriven for document %s", job.ID, job.DocumentID)
	return job, nil
}

// IndexStats describes the vector index.
func (s *DocumentService) IndexStats() index.Stats {
	return s.index.Stats()
}

// CompactIndex drops inactive entries from the index.
func (s *DocumentService) CompactIndex() index.Stats {
	s.index.Compact()
	return s.index.Stats()
}
