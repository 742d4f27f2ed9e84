//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/cloo-solutions/medindex/internal/testutil"
)

const migrationsDir = "../../migrations"

func newDocument(id string, status domain.DocumentStatus) *domain.Document {
	now := time.Now().UTC().Truncate(time.Microsecond)
	published := now.AddDate(-1, 0, 0)
	return &domain.Document{
		ID:          id,
		SourceURI:   "s3://literature/" + id,
		Title:       "Title " + id,
		PublishedAt: &published,
		Category:    "cardiology",
		ContentType: "text/plain",
		Status:      status,
		ContentHash: id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestDocumentRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	repo := NewDocumentRepository(pool)

	doc := newDocument("doc-1", domain.DocumentStatusQueued)
	require.NoError(t, repo.Create(ctx, doc))
	assert.ErrorIs(t, repo.Create(ctx, doc), domain.ErrDocumentAlreadyExists)

	got, err := repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.SourceURI, got.SourceURI)
	assert.True(t, doc.PublishedAt.Equal(*got.PublishedAt))

	require.NoError(t, repo.UpdateStatus(ctx, "doc-1", domain.DocumentStatusFailed, "boom"))
	got, err = repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, got.Status)
	assert.Equal(t, "boom", got.LastError)

	require.NoError(t, repo.Deactivate(ctx, "doc-1", time.Now().UTC()))
	require.NoError(t, repo.Reset(ctx, "doc-1"))
	got, err = repo.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusQueued, got.Status)
	assert.Empty(t, got.LastError)
	assert.Nil(t, got.DeactivatedAt)

	require.NoError(t, repo.Delete(ctx, "doc-1"))
	_, err = repo.GetByID(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "doc-1", domain.DocumentStatusIndexed, ""), domain.ErrDocumentNotFound)
}

func TestDocumentRepository_ListAndSearchable(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	repo := NewDocumentRepository(pool)

	for i := 0; i < 5; i++ {
		d := newDocument(fmt.Sprintf("doc-%d", i), domain.DocumentStatusIndexed)
		d.CreatedAt = d.CreatedAt.Add(time.Duration(i) * time.Second)
		if i == 4 {
			d.Category = "oncology"
		}
		require.NoError(t, repo.Create(ctx, d))
	}

	page, err := repo.List(ctx, service.DocumentListFilter{}, nil, 3)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.True(t, page.HasMore)
	assert.Equal(t, "doc-4", page.Items[0].ID)

	ids, err := repo.SearchableIDs(ctx, service.SearchFilters{Category: "oncology"})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-4"}, ids)

	ids, err = repo.SearchableIDs(ctx, service.SearchFilters{DocumentIDs: []string{"doc-1", "doc-2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, ids)
}

func TestChunkAndEmbeddingRepositories(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	docs := NewDocumentRepository(pool)
	chunks := NewChunkRepository(pool)
	embeddings := NewEmbeddingRepository(pool)

	require.NoError(t, docs.Create(ctx, newDocument("doc-1", domain.DocumentStatusProcessing)))
	now := time.Now().UTC()
	a := domain.NewChunk("doc-1", 0, "Warfarin requires INR monitoring in atrial fibrillation.", 7, now)
	b := domain.NewChunk("doc-1", 1, "Statins reduce LDL cholesterol.", 4, now)
	require.NoError(t, chunks.ReplaceChunks(ctx, "doc-1", []domain.Chunk{a, b}))

	require.NoError(t, embeddings.Save(ctx, []domain.Embedding{
		{ChunkID: a.ID, DocumentID: "doc-1", Vector: []float32{1, 0, 0}, ModelVersion: "m1"},
		{ChunkID: b.ID, DocumentID: "doc-1", Vector: []float32{0, 1, 0}, ModelVersion: "m1"},
	}))

	n, err := chunks.CountIndexed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, docs.UpdateStatus(ctx, "doc-1", domain.DocumentStatusIndexed, ""))
	n, err = chunks.CountIndexed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := chunks.SearchLexical(ctx, "warfarin monitoring", service.SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].Chunk.ID)

	indexed, err := embeddings.ListIndexed(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, indexed, 2)

	c := domain.NewChunk("doc-1", 1, "Statins reduce cardiovascular events.", 4, now)
	require.NoError(t, chunks.ReplaceChunks(ctx, "doc-1", []domain.Chunk{a, c}))
	current, err := embeddings.ByChunkIDs(ctx, []string{a.ID, b.ID, c.ID}, "m1")
	require.NoError(t, err)
	assert.Len(t, current, 1)
	assert.Equal(t, []float32{1, 0, 0}, current[a.ID].Vector)

	require.NoError(t, embeddings.Save(ctx, []domain.Embedding{{ChunkID: a.ID, DocumentID: "doc-1", Vector: []float32{0, 0, 1}, ModelVersion: "m2"}}))
	old, err := embeddings.ByChunkIDs(ctx, []string{a.ID}, "m1")
	require.NoError(t, err)
	assert.Empty(t, old)

	// going back to m1 inserts a new row; the retired one keeps its vector
	require.NoError(t, embeddings.Save(ctx, []domain.Embedding{{ChunkID: a.ID, DocumentID: "doc-1", Vector: []float32{1, 1, 0}, ModelVersion: "m1"}}))
	current, err = embeddings.ByChunkIDs(ctx, []string{a.ID}, "m1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 0}, current[a.ID].Vector)

	var retired string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT vector::text FROM embeddings WHERE chunk_id = $1 AND model_version = 'm1' AND retired_at IS NOT NULL`,
		a.ID,
	).Scan(&retired))
	assert.Equal(t, "[1,0,0]", retired)
}

func TestIngestionJobRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	docs := NewDocumentRepository(pool)
	jobs := NewIngestionJobRepository(pool)

	require.NoError(t, docs.Create(ctx, newDocument("doc-1", domain.DocumentStatusQueued)))
	job := domain.NewIngestionJob(uuid.NewString(), "doc-1", time.Now().UTC())
	require.NoError(t, jobs.Enqueue(ctx, job))
	assert.ErrorIs(t, jobs.Enqueue(ctx, domain.NewIngestionJob(uuid.NewString(), "doc-1", time.Now().UTC())), domain.ErrJobAlreadyQueued)

	claimed, err := jobs.ClaimPending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.JobStateProcessing, claimed[0].State)

	require.NoError(t, jobs.Requeue(ctx, job.ID, 1, "transient"))
	assert.ErrorIs(t, jobs.Requeue(ctx, job.ID, 1, "transient"), domain.ErrInvalidTransition)

	_, err = jobs.ClaimPending(ctx, 3)
	require.NoError(t, err)
	moved, err := jobs.DeadLetter(ctx, job.ID, 3, "fatal")
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = jobs.DeadLetter(ctx, job.ID, 3, "fatal")
	require.NoError(t, err)
	assert.False(t, moved)

	dead, err := jobs.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].AttemptCount)

	redriven, err := jobs.Redrive(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, redriven.State)
	_, err = jobs.Redrive(ctx, job.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = jobs.ClaimPending(ctx, 3)
	require.NoError(t, err)
	released, err := jobs.ReleaseStale(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	_, err = jobs.ClaimPending(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, jobs.Complete(ctx, job.ID))
	assert.ErrorIs(t, jobs.Complete(ctx, job.ID), domain.ErrJobNotFound)
}

func TestFeedbackRepository_ConcurrentBoundedUpdates(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	require.NoError(t, NewDocumentRepository(pool).Create(ctx, newDocument("doc-1", domain.DocumentStatusIndexed)))
	repo := NewFeedbackRepository(pool)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Record(ctx, &domain.FeedbackRecord{ID: uuid.NewString(), DocumentID: "doc-1", Rating: 5})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w, err := repo.Weight(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, w)

	for i := 0; i < 30; i++ {
		w, err = repo.Record(ctx, &domain.FeedbackRecord{ID: uuid.NewString(), DocumentID: "doc-1", Rating: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, 0.1, w)

	weights, err := repo.Weights(ctx, []string{"doc-1", "unrated"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, weights["unrated"])

	_, err = repo.Record(ctx, &domain.FeedbackRecord{ID: uuid.NewString(), DocumentID: "missing", Rating: 5})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestTxRunner_Rollback(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	runner := NewTxRunner(pool)
	boom := errors.New("boom")

	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Documents().Create(ctx, newDocument("doc-1", domain.DocumentStatusQueued)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = NewDocumentRepository(pool).GetByID(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestBlobRepository(t *testing.T) {
	ctx := context.Background()
	pool := testutil.NewMigratedPool(t, migrationsDir)
	blobs := NewBlobRepository(pool)

	require.NoError(t, blobs.Put(ctx, "doc-1", []byte("%PDF-1.7"), "application/pdf"))
	raw, ct, err := blobs.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), raw)
	assert.Equal(t, "application/pdf", ct)

	require.NoError(t, blobs.Delete(ctx, "doc-1"))
	_, _, err = blobs.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
}
