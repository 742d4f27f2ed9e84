package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type EmbeddingRepository struct {
	db dbtx
}

func NewEmbeddingRepository(pool *pgxpool.Pool) *EmbeddingRepository {
	return &EmbeddingRepository{db: pool}
}

func NewEmbeddingRepositoryWithTx(tx pgx.Tx) *EmbeddingRepository {
	return &EmbeddingRepository{db: tx}
}

// Save inserts embeddings and retires other model versions of the same chunks.
// An existing current embedding for the same chunk and model is left as is.
// Rows are append-only: returning to an older model inserts a new row and
// leaves the retired one untouched.
func (r *EmbeddingRepository) Save(ctx context.Context, embeddings []domain.Embedding) error {
	now := time.Now().UTC()
	for _, e := range embeddings {
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := r.db.Exec(ctx,
			`INSERT INTO embeddings (chunk_id, document_id, model_version, vector, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (chunk_id, model_version) WHERE retired_at IS NULL DO NOTHING`,
			e.ChunkID, e.DocumentID, e.ModelVersion, pgvector.NewVector(e.Vector), createdAt,
		); err != nil {
			return fmt.Errorf("failed to insert embedding for chunk %s: %w", e.ChunkID, err)
		}
		if _, err := r.db.Exec(ctx,
			`UPDATE embeddings SET retired_at = $1
			 WHERE chunk_id = $2 AND model_version <> $3 AND retired_at IS NULL`,
			now, e.ChunkID, e.ModelVersion,
		); err != nil {
			return fmt.Errorf("failed to retire embeddings for chunk %s: %w", e.ChunkID, err)
		}
	}
	return nil
}

func (r *EmbeddingRepository) ByChunkIDs(ctx context.Context, chunkIDs []string, model string) (map[string]domain.Embedding, error) {
	out := make(map[string]domain.Embedding, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT chunk_id, document_id, model_version, vector, created_at, retired_at
		 FROM embeddings
		 WHERE chunk_id = ANY($1::uuid[]) AND model_version = $2 AND retired_at IS NULL`,
		chunkIDs, model,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out[e.ChunkID] = e
	}
	return out, rows.Err()
}

func (r *EmbeddingRepository) ListIndexed(ctx context.Context, model string) ([]domain.Embedding, error) {
	rows, err := r.db.Query(ctx,
		`SELECT e.chunk_id, e.document_id, e.model_version, e.vector, e.created_at, e.retired_at
		 FROM embeddings e
		 JOIN chunks c ON c.id = e.chunk_id
		 JOIN documents d ON d.id = c.document_id
		 WHERE e.model_version = $1 AND e.retired_at IS NULL
		   AND d.status = 'indexed' AND d.deactivated_at IS NULL
		 ORDER BY e.chunk_id`,
		model,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Embedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmbedding(row pgx.Row) (domain.Embedding, error) {
	var e domain.Embedding
	var vec pgvector.Vector
	if err := row.Scan(&e.ChunkID, &e.DocumentID, &e.ModelVersion, &vec, &e.CreatedAt, &e.RetiredAt); err != nil {
		return e, err
	}
	e.Vector = vec.Slice()
	return e, nil
}
