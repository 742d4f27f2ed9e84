package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chunkColumns = `c.id, c.document_id, c.ordinal, c.text, c.token_count, c.created_at`

type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes chunks of the document that are not in chunks (their
// embeddings cascade) and inserts the new ones. Surviving chunks are untouched.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	ids := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	ordinals := make([]int32, len(chunks))
	texts := make([]string, len(chunks))
	tokens := make([]int32, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		docIDs[i] = documentID
		ordinals[i] = int32(c.Ordinal)
		texts[i] = c.Text
		tokens[i] = int32(c.TokenCount)
	}

	if _, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND NOT (id = ANY($2::uuid[]))`,
		documentID, ids,
	); err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks (id, document_id, ordinal, text, token_count)
		 SELECT * FROM unnest($1::uuid[], $2::text[], $3::int[], $4::text[], $5::int[])
		 ON CONFLICT (id) DO NOTHING`,
		ids, docIDs, ordinals, texts, tokens,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.document_id = $1 ORDER BY c.ordinal`,
		documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	out := make(map[string]domain.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+chunkColumns+` FROM chunks c WHERE c.id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

func (r *ChunkRepository) CountIndexed(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.status = 'indexed' AND d.deactivated_at IS NULL`,
	).Scan(&n)
	return n, err
}

// SearchLexical ranks chunks of searchable documents with ts_rank.
func (r *ChunkRepository) SearchLexical(ctx context.Context, query string, filter service.SearchFilters, limit int) ([]*service.LexicalHit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	args := []any{query}
	where := []string{
		"c.tsv @@ plainto_tsquery('english', $1)",
		"d.status = 'indexed'",
		"d.deactivated_at IS NULL",
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("d.category = $%d", len(args)))
	}
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		where = append(where, fmt.Sprintf("d.id = ANY($%d)", len(args)))
	}
	if filter.PublishedAfter != nil {
		args = append(args, *filter.PublishedAfter)
		where = append(where, fmt.Sprintf("d.published_at > $%d", len(args)))
	}
	args = append(args, limit)

	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`, ts_rank(c.tsv, plainto_tsquery('english', $1)) AS score
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY score DESC, c.id
		 LIMIT $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*service.LexicalHit
	for rows.Next() {
		var h service.LexicalHit
		var score float32
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.Ordinal, &h.Chunk.Text,
			&h.Chunk.TokenCount, &h.Chunk.CreatedAt, &score); err != nil {
			return nil, err
		}
		h.Score = float64(score)
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

func scanChunk(row pgx.Row) (domain.Chunk, error) {
	var c domain.Chunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.TokenCount, &c.CreatedAt)
	return c, err
}
