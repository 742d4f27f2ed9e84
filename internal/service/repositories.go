package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/pagination"
	"github.com/google/uuid"
)

// DocumentRepository persists documents.
type DocumentRepository interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Document, error)
	List(ctx context.Context, filter DocumentListFilter, cursor *pagination.Cursor, limit int) (*DocumentPageResult, error)
	// SearchableIDs returns IDs of indexed, active documents matching filter.
	SearchableIDs(ctx context.Context, filter SearchFilters) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, lastError string) error
	// Reset returns a document to queued and clears deactivation for re-ingestion.
	Reset(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// DocumentListFilter narrows ListDocuments.
type DocumentListFilter struct {
	Status   domain.DocumentStatus
	Category string
}

// DocumentPageResult is one page of documents.
type DocumentPageResult struct {
	Items      []*domain.Document
	NextCursor string
	HasMore    bool
}

// BlobStore keeps the raw bytes of submitted documents.
type BlobStore interface {
	Put(ctx context.Context, documentID string, raw []byte, contentType string) error
	Get(ctx context.Context, documentID string) ([]byte, string, error)
	Delete(ctx context.Context, documentID string) error
}

// ChunkRepository persists chunks and serves lexical search over them.
type ChunkRepository interface {
	// ReplaceChunks makes chunks the complete chunk set of a document. Chunks
	// whose IDs survive keep their embeddings.
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
	// CountIndexed counts chunks of indexed, active documents.
	CountIndexed(ctx context.Context) (int, error)
	SearchLexical(ctx context.Context, query string, filter SearchFilters, limit int) ([]*LexicalHit, error)
}

// LexicalHit is a chunk matched by full-text search.
type LexicalHit struct {
	Chunk domain.Chunk
	Score float64
}

// EmbeddingRepository persists embeddings.
type EmbeddingRepository interface {
	// Save stores embeddings for model and retires other model versions of the same chunks.
	Save(ctx context.Context, embeddings []domain.Embedding) error
	// ByChunkIDs returns current embeddings of the given chunks for model.
	ByChunkIDs(ctx context.Context, chunkIDs []string, model string) (map[string]domain.Embedding, error)
	// ListIndexed returns current embeddings for model of every chunk of an indexed, active document.
	ListIndexed(ctx context.Context, model string) ([]domain.Embedding, error)
}

// JobRepository persists the ingestion queue.
type JobRepository interface {
	// Enqueue adds a job. It fails with ErrJobAlreadyQueued when the document
	// already has a queued or processing job.
	Enqueue(ctx context.Context, job *domain.IngestionJob) error
	ClaimPending(ctx context.Context, limit int) ([]*domain.IngestionJob, error)
	// Complete removes a processing job.
	Complete(ctx context.Context, id string) error
	// Requeue returns a processing job to queued with its attempt count and error.
	Requeue(ctx context.Context, id string, attempts int, lastError string) error
	// DeadLetter moves a processing job to the dead-letter set. It reports
	// false when the job was not processing, so the move happens once.
	DeadLetter(ctx context.Context, id string, attempts int, lastError string) (bool, error)
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int, error)
	ListDeadLetters(ctx context.Context, limit int) ([]*domain.IngestionJob, error)
	Redrive(ctx context.Context, id string) (*domain.IngestionJob, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// FeedbackRepository records ratings and serves per-document weights.
type FeedbackRepository interface {
	Record(ctx context.Context, record *domain.FeedbackRecord) (float64, error)
	Weight(ctx context.Context, documentID string) (float64, error)
	Weights(ctx context.Context, documentIDs []string) (map[string]float64, error)
}

// SearchFilters narrows a search.
type SearchFilters struct {
	Category       string
	DocumentIDs    []string
	PublishedAfter *time.Time
}

// Empty reports whether no filter is set.
func (f SearchFilters) Empty() bool {
	return f.Category == "" && len(f.DocumentIDs) == 0 && f.PublishedAfter == nil
}

// Matches reports whether d satisfies the filters.
func (f SearchFilters) Matches(d *domain.Document) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == d.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PublishedAfter != nil && (d.PublishedAt == nil || !d.PublishedAt.After(*f.PublishedAfter)) {
		return false
	}
	return true
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}
