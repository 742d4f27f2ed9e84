package repository

import (
	"context"

	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &txRepos{tx: tx}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

type txRepos struct {
	tx pgx.Tx
}

func (r *txRepos) Documents() service.DocumentRepository {
	return NewDocumentRepositoryWithTx(r.tx)
}

func (r *txRepos) Chunks() service.ChunkRepository {
	return NewChunkRepositoryWithTx(r.tx)
}

func (r *txRepos) Embeddings() service.EmbeddingRepository {
	return NewEmbeddingRepositoryWithTx(r.tx)
}

func (r *txRepos) Jobs() service.JobRepository {
	return NewIngestionJobRepositoryWithTx(r.tx)
}

var (
	_ service.DocumentRepository  = (*DocumentRepository)(nil)
	_ service.BlobStore           = (*BlobRepository)(nil)
	_ service.ChunkRepository     = (*ChunkRepository)(nil)
	_ service.EmbeddingRepository = (*EmbeddingRepository)(nil)
	_ service.JobRepository       = (*IngestionJobRepository)(nil)
	_ service.FeedbackRepository  = (*FeedbackRepository)(nil)
	_ service.TxRunner            = (*TxRunner)(nil)
)
