package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/chunking"
	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/embedding"
	"github.com/cloo-solutions/medindex/internal/index"
	"github.com/cloo-solutions/medindex/internal/quality"
	"github.com/cloo-solutions/medindex/internal/telemetry"
)

// Extractor turns raw bytes into ordered pages of text.
type Extractor interface {
	Extract(ctx context.Context, raw []byte, contentType string) ([]string, error)
}

// EmbeddingBatcher embeds chunk texts in bounded, retried batches.
type EmbeddingBatcher interface {
	EmbedAll(ctx context.Context, items []embedding.Item) (embedding.Result, error)
}

// VectorIndex is the in-memory similarity index.
type VectorIndex interface {
	InsertBatch(entries []domain.IndexEntry) (int, error)
	QueryFiltered(vector []float32, topK int, keep func(documentID string) bool) ([]index.Hit, error)
	Deactivate(documentID string) int
	Rebuild(entries []domain.IndexEntry) error
	Compact()
	Stats() index.Stats
	Publish() (done func())
}

// IngestStats summarises one pipeline run for a document.
type IngestStats struct {
	DocumentID     string
	Pages          int
	ChunksProduced int
	ChunksAccepted int
	// Rejected counts chunks dropped by the quality gate, by reason.
	Rejected map[string]int
	Embedded int
	Reused   int
	Inserted int
	Duration time.Duration
}

// PipelineDeps groups the collaborators of a Pipeline.
type PipelineDeps struct {
	Documents    DocumentRepository
	Blobs        BlobStore
	Chunks       ChunkRepository
	Embeddings   EmbeddingRepository
	Extractor    Extractor
	Gate         quality.Gate
	Batcher      EmbeddingBatcher
	Index        VectorIndex
	ModelVersion string
	Chunking     chunking.Config
}

// Pipeline runs a single document from raw bytes to searchable index entries.
type Pipeline struct {
	deps PipelineDeps
	now  func() time.Time
}

// NewPipeline creates a Pipeline
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// Process ingests the document. Returned errors are classified by
// domain.IsRetryable; stats are returned alongside errors when the run got
// far enough to produce them.
func (p *Pipeline) Process(ctx context.Context, documentID string) (*IngestStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "Pipeline.Process", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "ingest",
	})
	defer span.End()

	start := time.Now()
	stats := &IngestStats{DocumentID: documentID, Rejected: map[string]int{}}

	doc, err := p.deps.Documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Active() {
		return nil, domain.ErrDocumentDeactivated
	}
	if doc.Status == domain.DocumentStatusIndexed {
		// duplicate job; re-ingestion resets the document to queued first
		return stats, nil
	}
	if err := advanceStatus(ctx, p.deps.Documents, doc, domain.DocumentStatusProcessing, ""); err != nil {
		return nil, err
	}

	raw, contentType, err := p.deps.Blobs.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw document: %w", err)
	}
	if contentType == "" {
		contentType = doc.ContentType
	}

	pages, err := p.deps.Extractor.Extract(ctx, raw, contentType)
	if err != nil {
		if !errors.Is(err, domain.ErrExtraction) {
			err = domain.ErrExtraction.WithCause(err)
		}
		return stats, err
	}
	stats.Pages = len(pages)

	chunks := p.chunkAndGate(doc, pages, stats)

	if err := p.deps.Chunks.ReplaceChunks(ctx, documentID, chunks); err != nil {
		return stats, fmt.Errorf("failed to store chunks: %w", err)
	}

	embeddings, err := p.embed(ctx, doc, chunks, stats)
	if err != nil {
		return stats, err
	}

	if err := p.publish(ctx, doc, embeddings, stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	span.SetCount("chunks_accepted", stats.ChunksAccepted)
	span.SetCount("entries_inserted", stats.Inserted)
	log.Printf("ingest: document %s indexed: pages=%d chunks=%d accepted=%d rejected=%v embedded=%d reused=%d inserted=%d",
		documentID, stats.Pages, stats.ChunksProduced, stats.ChunksAccepted, stats.Rejected, stats.Embedded, stats.Reused, stats.Inserted)
	return stats, nil
}

// publish swaps the document's index entries for embeddings and marks it
// indexed. A rebuild cannot run in between, so it never sees the entries
// without the indexed status.
func (p *Pipeline) publish(ctx context.Context, doc *domain.Document, embeddings []domain.Embedding, stats *IngestStats) error {
	done := p.deps.Index.Publish()
	defer done()

	// stale entries from a previous ingestion of the same document
	p.deps.Index.Deactivate(doc.ID)

	entries := make([]domain.IndexEntry, len(embeddings))
	for i, e := range embeddings {
		entries[i] = domain.EntryFromEmbedding(e)
	}
	inserted, err := p.deps.Index.InsertBatch(entries)
	if err != nil {
		return err
	}
	stats.Inserted = inserted

	if err := advanceStatus(ctx, p.deps.Documents, doc, domain.DocumentStatusIndexed, ""); err != nil {
		p.deps.Index.Deactivate(doc.ID)
		return fmt.Errorf("failed to mark document indexed: %w", err)
	}
	return nil
}

// chunkAndGate chunks every page and keeps the chunks the gate accepts.
// Ordinals follow chunker output so rejected chunks leave gaps.
func (p *Pipeline) chunkAndGate(doc *domain.Document, pages []string, stats *IngestStats) []domain.Chunk {
	texts := chunking.Chunk(strings.Join(pages, "\n\n"), p.deps.Chunking)
	stats.ChunksProduced = len(texts)

	meta := quality.Metadata{
		DocumentID: doc.ID,
		SourceURI:  doc.SourceURI,
		Category:   doc.Category,
	}
	now := p.now()

	chunks := make([]domain.Chunk, 0, len(texts))
	for ordinal, text := range texts {
		verdict := p.deps.Gate.Accept(text, meta)
		if !verdict.Accepted {
			stats.Rejected[verdict.Reason]++
			continue
		}
		chunks = append(chunks, domain.NewChunk(doc.ID, ordinal, text, chunking.CountTokens(text), now))
	}
	stats.ChunksAccepted = len(chunks)
	return chunks
}

// embed returns a current-model embedding for every chunk, embedding only the
// chunks that do not have one yet. Partial results are persisted before a
// batch failure is returned.
func (p *Pipeline) embed(ctx context.Context, doc *domain.Document, chunks []domain.Chunk, stats *IngestStats) ([]domain.Embedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	existing, err := p.deps.Embeddings.ByChunkIDs(ctx, ids, p.deps.ModelVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	stats.Reused = len(existing)

	var items []embedding.Item
	for _, c := range chunks {
		if _, ok := existing[c.ID]; !ok {
			items = append(items, embedding.Item{ChunkID: c.ID, Text: c.Text})
		}
	}

	result, embedErr := p.deps.Batcher.EmbedAll(ctx, items)
	if len(result.Vectors) > 0 {
		now := p.now()
		fresh := make([]domain.Embedding, len(result.Vectors))
		for i, v := range result.Vectors {
			fresh[i] = domain.Embedding{
				ChunkID:      v.ChunkID,
				DocumentID:   doc.ID,
				Vector:       v.Vector,
				ModelVersion: p.deps.ModelVersion,
				CreatedAt:    now,
			}
		}
		if err := p.deps.Embeddings.Save(ctx, fresh); err != nil {
			return nil, fmt.Errorf("failed to store embeddings: %w", err)
		}
		for _, e := range fresh {
			existing[e.ChunkID] = e
		}
		stats.Embedded = len(fresh)
	}
	if embedErr != nil {
		return nil, embedErr
	}

	out := make([]domain.Embedding, 0, len(chunks))
	for _, c := range chunks {
		e, ok := existing[c.ID]
		if !ok {
			return nil, domain.ErrEmbeddingService.WithCause(fmt.Errorf("chunk %s has no embedding", c.ID))
		}
		out = append(out, e)
	}
	return out, nil
}

// advanceStatus moves a document forward along the ingestion lifecycle.
// Staying in the same status is allowed so retried steps stay idempotent.
func advanceStatus(ctx context.Context, docs DocumentRepository, doc *domain.Document, to domain.DocumentStatus, lastError string) error {
	if doc.Status != to && !domain.CanTransition(doc.Status, to) {
		return domain.ErrInvalidTransition.WithCause(fmt.Errorf("document %s: %s to %s", doc.ID, doc.Status, to))
	}
	if err := docs.UpdateStatus(ctx, doc.ID, to, lastError); err != nil {
		return err
	}
	doc.Status = to
	doc.LastError = lastError
	return nil
}
