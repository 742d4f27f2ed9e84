package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/medindex/internal/domain"
	"github.com/cloo-solutions/medindex/internal/pagination"
	"github.com/cloo-solutions/medindex/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentColumns = `id, source_uri, title, published_at, category, content_type, status, content_hash,
	last_error, deactivated_at, created_at, updated_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.SourceURI, d.Title, d.PublishedAt, d.Category, d.ContentType, d.Status, d.ContentHash,
		nullableString(d.LastError), d.DeactivatedAt, d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDocumentAlreadyExists
	}
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *DocumentRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Document, error) {
	out := make(map[string]*domain.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

func (r *DocumentRepository) List(ctx context.Context, filter service.DocumentListFilter, cursor *pagination.Cursor, limit int) (*service.DocumentPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if cursor != nil {
		args = append(args, cursor.Timestamp, cursor.LastID)
		where = append(where, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit+1)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &service.DocumentPageResult{}
	if len(items) > limit {
		result.HasMore = true
		items = items[:limit]
		last := items[len(items)-1]
		result.NextCursor = pagination.EncodeCursor(last.ID, last.CreatedAt)
	}
	result.Items = items
	return result, nil
}

func (r *DocumentRepository) SearchableIDs(ctx context.Context, filter service.SearchFilters) ([]string, error) {
	where := []string{"status = 'indexed'", "deactivated_at IS NULL"}
	var args []any
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if filter.PublishedAfter != nil {
		args = append(args, *filter.PublishedAfter)
		where = append(where, fmt.Sprintf("published_at > $%d", len(args)))
	}

	rows, err := r.db.Query(ctx, `SELECT id FROM documents WHERE `+strings.Join(where, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, lastError string) error {
	if !domain.IsValidDocumentStatus(status) {
		return domain.ErrInvalidDocumentStatus
	}
	return r.exec(ctx,
		`UPDATE documents SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		status, nullableString(lastError), time.Now().UTC(), id,
	)
}

func (r *DocumentRepository) Reset(ctx context.Context, id string) error {
	return r.exec(ctx,
		`UPDATE documents SET status = $1, last_error = NULL, deactivated_at = NULL, updated_at = $2 WHERE id = $3`,
		domain.DocumentStatusQueued, time.Now().UTC(), id,
	)
}

func (r *DocumentRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx,
		`UPDATE documents SET deactivated_at = COALESCE(deactivated_at, $1), updated_at = $1 WHERE id = $2`,
		at, id,
	)
}

// Delete purges a document; owned rows go with it through ON DELETE CASCADE.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
}

func (r *DocumentRepository) exec(ctx context.Context, sql string, args ...any) error {
	cmdTag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var lastError *string
	if err := row.Scan(&d.ID, &d.SourceURI, &d.Title, &d.PublishedAt, &d.Category, &d.ContentType, &d.Status,
		&d.ContentHash, &lastError, &d.DeactivatedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.LastError = stringOrEmpty(lastError)
	return &d, nil
}
