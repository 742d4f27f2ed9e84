package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/telemetry"
)

// SubmitInput is a raw document with its metadata.
type SubmitInput struct {
	Raw         []byte
	SourceURI   string
	Title       string
	Category    string
	ContentType string
	PublishedAt *time.Time
}

// SubmitResult identifies the submitted document. Created is false when the
// same bytes were already known.
type SubmitResult struct {
	DocumentID string
	Status     domain.DocumentStatus
	Created    bool
}

// IngestService accepts documents into the ingestion queue.
type IngestService struct {
	tx      TxRunner
	docs    DocumentRepository
	blobs   BlobStore
	index   VectorIndex
	uuidGen UUIDGenerator
	now     func() time.Time
}

// NewIngestService creates a new IngestService instance
func NewIngestService(tx TxRunner, docs DocumentRepository, blobs BlobStore, idx VectorIndex) *IngestService {
	return &IngestService{
		tx:      tx,
		docs:    docs,
		blobs:   blobs,
		index:   idx,
		uuidGen: &DefaultUUIDGenerator{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit stores the raw bytes and queues the document for ingestion. The
// document ID is the content hash, so resubmitting identical bytes returns
// the existing document without queueing it again.
func (s *IngestService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if len(input.Raw) == 0 {
		return nil, domain.ErrEmptyDocument
	}
	if strings.TrimSpace(input.SourceURI) == "" {
		return nil, domain.ErrMissingRequiredField.WithCause(errors.New("source_uri"))
	}
	if strings.TrimSpace(input.Category) == "" {
		return nil, domain.ErrMissingRequiredField.WithCause(errors.New("category"))
	}

	id := domain.ContentHash(input.Raw)

	ctx, span := telemetry.StartSpan(ctx, "IngestService.Submit", telemetry.SpanAttributes{
		DocumentID: id,
		Category:   input.Category,
		Operation:  "submit",
	})
	defer span.End()

	existing, err := s.docs.GetByID(ctx, id)
	if err == nil {
		return &SubmitResult{DocumentID: id, Status: existing.Status}, nil
	}
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		span.SetError(err)
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}

	// The blob goes first so a queued job always finds its bytes.
	if err := s.blobs.Put(ctx, id, input.Raw, input.ContentType); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to store raw document: %w", err)
	}

	now := s.now()
	doc := &domain.Document{
		ID:          id,
		SourceURI:   strings.TrimSpace(input.SourceURI),
		Title:       strings.TrimSpace(input.Title),
		PublishedAt: input.PublishedAt,
		Category:    strings.TrimSpace(input.Category),
		ContentType: input.ContentType,
		Status:      domain.DocumentStatusQueued,
		ContentHash: id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, domain.ErrMissingRequiredField.WithCause(err)
	}

	err = s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return err
		}
		return repos.Jobs().Enqueue(ctx, domain.NewIngestionJob(s.uuidGen.NewString(), id, now))
	})
	if errors.Is(err, domain.ErrDocumentAlreadyExists) {
		// lost a race with an identical submission
		existing, getErr := s.docs.GetByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return &SubmitResult{DocumentID: id, Status: existing.Status}, nil
	}
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("failed to queue document: %w", err)
	}

	return &SubmitResult{DocumentID: id, Status: domain.DocumentStatusQueued, Created: true}, nil
}

// Reingest re-queues an existing document. Its index entries stop being
// served until the new run completes; a deactivated document is reactivated.
func (s *IngestService) Reingest(ctx context.Context, documentID string) (*domain.IngestionJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Reingest", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "reingest",
	})
	defer span.End()

	done := s.index.Publish()
	defer done()

	job := domain.NewIngestionJob(s.uuidGen.NewString(), documentID, s.now())
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if _, err := repos.Documents().GetByID(ctx, documentID); err != nil {
			return err
		}
		if err := repos.Documents().Reset(ctx, documentID); err != nil {
			return err
		}
		return repos.Jobs().Enqueue(ctx, job)
	})
	if err != nil {
		return nil, err
	}

	s.index.Deactivate(documentID)
	return job, nil
}
