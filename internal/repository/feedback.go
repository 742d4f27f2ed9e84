package repository

import (
	"context"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/feedback"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedbackRepository is the postgres feedback.Store. The record append and the
// weight upsert run as one statement, and ON CONFLICT row locking serialises
// concurrent ratings of the same document.
type FeedbackRepository struct {
	db dbtx
}

var _ feedback.Store = (*FeedbackRepository)(nil)

func NewFeedbackRepository(pool *pgxpool.Pool) *FeedbackRepository {
	return &FeedbackRepository{db: pool}
}

func NewFeedbackRepositoryWithTx(tx pgx.Tx) *FeedbackRepository {
	return &FeedbackRepository{db: tx}
}

func (r *FeedbackRepository) Record(ctx context.Context, record *domain.FeedbackRecord) (float64, error) {
	if err := domain.ValidateFeedbackRecord(record); err != nil {
		return 0, err
	}
	delta, err := feedback.Delta(record.Rating)
	if err != nil {
		return 0, err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var weight float64
	err = r.db.QueryRow(ctx,
		`WITH rec AS (
			 INSERT INTO feedback_records (id, document_id, rating, query_context, created_at)
			 VALUES ($1, $2, $3, $4, $5)
		 )
		 INSERT INTO feedback_weights (document_id, weight, updated_at)
		 VALUES ($2, LEAST(GREATEST(ROUND(($6::double precision + $7::double precision)::numeric, 6)::double precision, $8::double precision), $9::double precision), $5)
		 ON CONFLICT (document_id) DO UPDATE
		 SET weight = LEAST(GREATEST(ROUND((feedback_weights.weight + $7::double precision)::numeric, 6)::double precision, $8::double precision), $9::double precision),
		     updated_at = EXCLUDED.updated_at
		 RETURNING weight`,
		record.ID, record.DocumentID, record.Rating, record.QueryContext, createdAt,
		domain.DefaultFeedbackWeight, delta, domain.MinFeedbackWeight, domain.MaxFeedbackWeight,
	).Scan(&weight)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, domain.ErrDocumentNotFound
		}
		return 0, err
	}
	return weight, nil
}

func (r *FeedbackRepository) Weight(ctx context.Context, documentID string) (float64, error) {
	weights, err := r.Weights(ctx, []string{documentID})
	if err != nil {
		return 0, err
	}
	return weights[documentID], nil
}

func (r *FeedbackRepository) Weights(ctx context.Context, documentIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(documentIDs))
	for _, id := range documentIDs {
		out[id] = domain.DefaultFeedbackWeight
	}
	if len(documentIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT document_id, weight FROM feedback_weights WHERE document_id = ANY($1)`,
		documentIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var w float64
		if err := rows.Scan(&id, &w); err != nil {
			return nil, err
		}
		out[id] = w
	}
	return out, rows.Err()
}
