package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlobRepository stores raw document bytes in postgres. Used when no object
// store is configured.
type BlobRepository struct {
	db dbtx
}

func NewBlobRepository(pool *pgxpool.Pool) *BlobRepository {
	return &BlobRepository{db: pool}
}

func (r *BlobRepository) Put(ctx context.Context, documentID string, raw []byte, contentType string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO document_blobs (document_id, content_type, raw)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (document_id) DO UPDATE SET content_type = EXCLUDED.content_type, raw = EXCLUDED.raw`,
		documentID, contentType, raw,
	)
	return err
}

func (r *BlobRepository) Get(ctx context.Context, documentID string) ([]byte, string, error) {
	var raw []byte
	var contentType string
	err := r.db.QueryRow(ctx,
		`SELECT raw, content_type FROM document_blobs WHERE document_id = $1`,
		documentID,
	).Scan(&raw, &contentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", domain.ErrBlobNotFound
		}
		return nil, "", err
	}
	return raw, contentType, nil
}

func (r *BlobRepository) Delete(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_blobs WHERE document_id = $1`, documentID)
	return err
}
